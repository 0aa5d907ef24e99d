package interpret

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/tbxark/formchat/types"
)

const FallbackMessage = "Sorry, I encountered a technical issue processing that. Could you please try rephrasing?"

// Source tells how a turn result was obtained.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFenced   Source = "fenced"
	SourceFallback Source = "fallback"
)

type Outcome struct {
	Result types.TurnResult
	Source Source
	// Err is the primary parse error when Source is not SourcePrimary.
	Err error
}

var fencedJSON = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

type wireField struct {
	Label *string `json:"label"`
	Value *string `json:"value"`
}

type wireResult struct {
	ExtractedData  []wireField `json:"extracted_data"`
	BotMessage     *string     `json:"bot_message"`
	NextState      *string     `json:"next_state"`
	FieldToCorrect *string     `json:"field_to_correct"`
}

// Interpret never fails: it parses raw strictly, then retries on a fenced
// JSON block, then falls back to an apology that keeps current as the next state.
func Interpret(raw string, current types.State) Outcome {
	result, err := Parse(raw)
	if err == nil {
		return Outcome{Result: result, Source: SourcePrimary}
	}
	slog.Warn("Model output failed strict parsing", "error", err, "raw", truncate(raw, 500))

	if match := fencedJSON.FindStringSubmatch(raw); match != nil {
		recovered, rErr := Parse(match[1])
		if rErr == nil {
			slog.Info("Recovered model output from fenced block")
			return Outcome{Result: recovered, Source: SourceFenced, Err: err}
		}
		slog.Warn("Fenced block recovery failed", "error", rErr)
	}

	return Outcome{Result: Fallback(current), Source: SourceFallback, Err: err}
}

// Parse decodes raw as the turn result contract. All failures wrap types.ErrSchema.
func Parse(raw string) (types.TurnResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.TurnResult{}, fmt.Errorf("%w: empty output", types.ErrSchema)
	}
	var wire wireResult
	if err := sonic.UnmarshalString(raw, &wire); err != nil {
		return types.TurnResult{}, fmt.Errorf("%w: %v", types.ErrSchema, err)
	}
	if wire.BotMessage == nil {
		return types.TurnResult{}, fmt.Errorf("%w: missing bot_message", types.ErrSchema)
	}
	if wire.NextState == nil {
		return types.TurnResult{}, fmt.Errorf("%w: missing next_state", types.ErrSchema)
	}
	state, err := types.ParseState(*wire.NextState)
	if err != nil {
		return types.TurnResult{}, fmt.Errorf("%w: %v", types.ErrSchema, err)
	}

	result := types.TurnResult{
		ExtractedData: make([]types.ExtractedField, 0, len(wire.ExtractedData)),
		BotMessage:    *wire.BotMessage,
		NextState:     state,
	}
	for i, item := range wire.ExtractedData {
		if item.Label == nil || item.Value == nil {
			return types.TurnResult{}, fmt.Errorf("%w: extracted_data[%d] requires label and value", types.ErrSchema, i)
		}
		result.ExtractedData = append(result.ExtractedData, types.ExtractedField{Label: *item.Label, Value: *item.Value})
	}
	if wire.FieldToCorrect != nil {
		result.FieldToCorrect = strings.TrimSpace(*wire.FieldToCorrect)
	}
	return result, nil
}

func Fallback(current types.State) types.TurnResult {
	return types.TurnResult{
		ExtractedData: []types.ExtractedField{},
		BotMessage:    FallbackMessage,
		NextState:     current,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
