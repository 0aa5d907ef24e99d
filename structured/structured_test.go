package structured

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbxark/formchat/session"
	"github.com/tbxark/formchat/types"
)

type fakeChatModel struct {
	mu       sync.Mutex
	response *schema.Message
	err      error
	calls    int
	inputs   [][]*schema.Message
	options  []*model.Options
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, input)
	f.options = append(f.options, model.GetCommonOptions(&model.Options{}, opts...))
	return f.response, f.err
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeChatModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func TestChain_TextMode(t *testing.T) {
	cm := &fakeChatModel{response: schema.AssistantMessage(`{"bot_message":"hi"}`, nil)}
	chain := NewChain(cm)

	history := []*schema.Message{
		schema.AssistantMessage("What is your First Name?", nil),
		schema.UserMessage("John"),
	}
	out, err := chain.Generate(context.Background(), history, "instruction text")
	require.NoError(t, err)
	assert.Equal(t, `{"bot_message":"hi"}`, out)

	require.Len(t, cm.inputs, 1)
	sent := cm.inputs[0]
	require.Len(t, sent, 3)
	assert.Equal(t, schema.User, sent[2].Role)
	assert.Equal(t, "instruction text", sent[2].Content)
	assert.Empty(t, cm.options[0].Tools)
	assert.Nil(t, chain.GetToolInfo())
}

func TestChain_ToolMode(t *testing.T) {
	args := `{"extracted_data":[],"bot_message":"ok","next_state":"COLLECTING"}`
	cm := &fakeChatModel{response: &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call_1",
			Function: schema.FunctionCall{Name: TurnResultToolName, Arguments: args},
		}},
	}}
	chain, err := NewTurnResultChain(cm)
	require.NoError(t, err)
	require.NotNil(t, chain.GetToolInfo())
	assert.Equal(t, TurnResultToolName, chain.GetToolInfo().Name)

	out, err := chain.Generate(context.Background(), nil, "instruction")
	require.NoError(t, err)
	assert.Equal(t, args, out)

	opts := cm.options[0]
	require.Len(t, opts.Tools, 1)
	assert.Equal(t, TurnResultToolName, opts.Tools[0].Name)
}

func TestChain_ToolModeWithoutToolCallReturnsContent(t *testing.T) {
	cm := &fakeChatModel{response: schema.AssistantMessage("plain text", nil)}
	chain, err := NewTurnResultChain(cm)
	require.NoError(t, err)

	out, err := chain.Generate(context.Background(), nil, "instruction")
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestChain_TrimsHistory(t *testing.T) {
	cm := &fakeChatModel{response: schema.AssistantMessage("{}", nil)}
	chain := NewChain(cm, WithTrimmer(session.KeepSystemLastNTrimmer{N: 2}))

	history := []*schema.Message{schema.SystemMessage("system")}
	for i := 0; i < 6; i++ {
		history = append(history, schema.UserMessage(fmt.Sprintf("user %d", i)))
	}
	_, err := chain.Generate(context.Background(), history, "instruction")
	require.NoError(t, err)

	sent := cm.inputs[0]
	require.Len(t, sent, 4)
	assert.Equal(t, "system", sent[0].Content)
	assert.Equal(t, "user 4", sent[1].Content)
	assert.Equal(t, "user 5", sent[2].Content)
	assert.Equal(t, "instruction", sent[3].Content)
	assert.Len(t, history, 7)
}

func TestChain_Failures(t *testing.T) {
	t.Run("model error", func(t *testing.T) {
		cm := &fakeChatModel{err: errors.New("connection reset")}
		_, err := NewChain(cm).Generate(context.Background(), nil, "instruction")
		assert.ErrorIs(t, err, types.ErrServiceUnavailable)
	})

	t.Run("empty response", func(t *testing.T) {
		cm := &fakeChatModel{}
		_, err := NewChain(cm).Generate(context.Background(), nil, "instruction")
		assert.ErrorIs(t, err, types.ErrServiceUnavailable)
	})
}

func TestChain_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cm := &fakeChatModel{err: errors.New("upstream 500")}
	chain := NewChain(cm, WithBreaker(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := chain.Generate(ctx, nil, "instruction")
		require.ErrorIs(t, err, types.ErrServiceUnavailable)
	}
	_, err := chain.Generate(ctx, nil, "instruction")
	require.ErrorIs(t, err, types.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, cm.calls)
}
