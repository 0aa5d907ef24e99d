package interpret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbxark/formchat/types"
)

func TestParse(t *testing.T) {
	raw := `{"extracted_data":[{"label":"age","value":"30"}],"bot_message":"Thanks!","next_state":"CONFIRMING_SUMMARY","field_to_correct":null}`

	result, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, []types.ExtractedField{{Label: "age", Value: "30"}}, result.ExtractedData)
	assert.Equal(t, "Thanks!", result.BotMessage)
	assert.Equal(t, types.StateConfirmingSummary, result.NextState)
	assert.Equal(t, "", result.FieldToCorrect)
}

func TestParse_OptionalFields(t *testing.T) {
	result, err := Parse(`{"bot_message":"Which field?","next_state":"AWAITING_CORRECTION_VALUE","field_to_correct":" age "}`)
	require.NoError(t, err)
	assert.Empty(t, result.ExtractedData)
	assert.Equal(t, "age", result.FieldToCorrect)
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := map[string]string{
		"empty":           "  ",
		"not json":        "hello there",
		"missing message": `{"next_state":"COLLECTING"}`,
		"missing state":   `{"bot_message":"hi"}`,
		"unknown state":   `{"bot_message":"hi","next_state":"DANCING"}`,
		"item no value":   `{"bot_message":"hi","next_state":"COLLECTING","extracted_data":[{"label":"age"}]}`,
		"item no label":   `{"bot_message":"hi","next_state":"COLLECTING","extracted_data":[{"value":"3"}]}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			assert.ErrorIs(t, err, types.ErrSchema)
		})
	}
}

func TestInterpret_Primary(t *testing.T) {
	out := Interpret(`{"bot_message":"hi","next_state":"COLLECTING"}`, types.StateClarifying)
	assert.Equal(t, SourcePrimary, out.Source)
	assert.NoError(t, out.Err)
	assert.Equal(t, types.StateCollecting, out.Result.NextState)
}

func TestInterpret_Fenced(t *testing.T) {
	raw := "Sure! Here you go:\n```json\n{\"bot_message\":\"What is your Age?\",\"next_state\":\"COLLECTING\",\"extracted_data\":[{\"label\":\"first_name\",\"value\":\"John\"}]}\n```\nAnything else?"

	out := Interpret(raw, types.StateCollecting)
	assert.Equal(t, SourceFenced, out.Source)
	assert.ErrorIs(t, out.Err, types.ErrSchema)
	assert.Equal(t, "What is your Age?", out.Result.BotMessage)
	assert.Equal(t, []types.ExtractedField{{Label: "first_name", Value: "John"}}, out.Result.ExtractedData)
}

func TestInterpret_Fallback(t *testing.T) {
	for _, raw := range []string{"", "no json here", "```json\n{\"bot_message\":1}\n```"} {
		out := Interpret(raw, types.StateAwaitingCorrectionField)
		assert.Equal(t, SourceFallback, out.Source, raw)
		assert.Error(t, out.Err)
		assert.Equal(t, FallbackMessage, out.Result.BotMessage)
		assert.Equal(t, types.StateAwaitingCorrectionField, out.Result.NextState)
		assert.Empty(t, out.Result.ExtractedData)
	}
}
