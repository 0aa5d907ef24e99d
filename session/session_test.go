package session

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbxark/formchat/patch"
	"github.com/tbxark/formchat/types"
)

func newTestSession(t *testing.T, labels ...string) *Session {
	t.Helper()
	sess, err := NewMemoryRegistry().Create(context.Background(), "test", labels, "")
	require.NoError(t, err)
	return sess
}

func TestSession_ApplyPatch(t *testing.T) {
	sess := newTestSession(t, "first_name", "age")

	require.NoError(t, sess.ApplyPatch([]patch.Operation{patch.SetField("first_name", "John")}))
	require.NoError(t, sess.ApplyPatch([]patch.Operation{patch.SetField("first_name", "Jack"), patch.SetField("age", "30")}))
	assert.Equal(t, map[string]string{"first_name": "Jack", "age": "30"}, sess.Responses())
	assert.Empty(t, sess.Unanswered())
	assert.Equal(t, "", sess.NextLabel())
}

func TestSession_ApplyPatchRejectsUnknownLabel(t *testing.T) {
	sess := newTestSession(t, "first_name")

	err := sess.ApplyPatch([]patch.Operation{
		patch.SetField("first_name", "John"),
		patch.SetField("city", "Oslo"),
	})
	require.Error(t, err)
	assert.Empty(t, sess.Responses())
}

func TestSession_ResponsesAreCopies(t *testing.T) {
	sess := newTestSession(t, "a")
	require.NoError(t, sess.ApplyPatch([]patch.Operation{patch.SetField("a", "1")}))

	got := sess.Responses()
	got["a"] = "changed"
	assert.Equal(t, "1", sess.Responses()["a"])

	snap := sess.Snapshot()
	snap.Responses["a"] = "changed"
	snap.Labelset[0] = "z"
	assert.Equal(t, "1", sess.Responses()["a"])
	assert.Equal(t, []string{"a"}, sess.Labelset())
}

func TestSession_CorrectionTarget(t *testing.T) {
	sess := newTestSession(t, "first_name", "age")

	assert.ErrorIs(t, sess.SetFieldToCorrect("city"), types.ErrInvalidArgument)
	assert.Equal(t, "", sess.FieldToCorrect())

	sess.SetState(types.StateAwaitingCorrectionValue)
	require.NoError(t, sess.SetFieldToCorrect("age"))
	assert.Equal(t, "age", sess.FieldToCorrect())

	sess.SetState(types.StateAwaitingCorrectionValue)
	assert.Equal(t, "age", sess.FieldToCorrect())

	sess.SetState(types.StateConfirmingSummary)
	assert.Equal(t, "", sess.FieldToCorrect())
}

func TestSession_NextLabelFollowsLabelsetOrder(t *testing.T) {
	sess := newTestSession(t, "c", "a", "b")
	assert.Equal(t, "c", sess.NextLabel())

	require.NoError(t, sess.ApplyPatch([]patch.Operation{patch.SetField("c", "1"), patch.SetField("b", "2")}))
	assert.Equal(t, []string{"a"}, sess.Unanswered())
	assert.Equal(t, "a", sess.NextLabel())
}

func TestSession_Summary(t *testing.T) {
	sess := newTestSession(t, "first_name", "email", "age")
	assert.Equal(t, "It seems no information has been collected yet.", sess.Summary())

	require.NoError(t, sess.ApplyPatch([]patch.Operation{
		patch.SetField("age", "25"),
		patch.SetField("first_name", "John"),
	}))
	assert.Equal(t, "Okay, here's the information I have:\n- First Name: John\n- Age: 25", sess.Summary())
}

func TestSession_History(t *testing.T) {
	sess := newTestSession(t, "a")
	sess.AppendHistory(schema.UserMessage("hi"), nil, schema.AssistantMessage("hello", nil))

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, schema.User, history[0].Role)
	assert.Equal(t, schema.Assistant, history[1].Role)
}

func TestSession_LastQuestion(t *testing.T) {
	sess := newTestSession(t, "a")
	sess.SetLastQuestion("a")
	assert.Equal(t, "a", sess.LastQuestion())
	assert.Equal(t, "a", sess.Snapshot().LastQuestion)
}

func TestKeepSystemLastNTrimmer(t *testing.T) {
	history := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("u1"),
		schema.AssistantMessage("a1", nil),
		schema.UserMessage("u2"),
		schema.AssistantMessage("a2", nil),
	}

	out := KeepSystemLastNTrimmer{N: 2}.Trim(history)
	require.Len(t, out, 3)
	assert.Equal(t, "sys", out[0].Content)
	assert.Equal(t, "u2", out[1].Content)
	assert.Equal(t, "a2", out[2].Content)

	assert.Len(t, KeepSystemLastNTrimmer{N: 0}.Trim(history), 5)
	assert.Len(t, KeepSystemLastNTrimmer{N: 10}.Trim(history), 5)
}
