package types

import (
	"fmt"
	"strings"
)

// State is a dialogue state of a conversation.
type State string

const (
	StateGreeting                State = "GREETING"
	StateCollecting              State = "COLLECTING"
	StateClarifying              State = "CLARIFYING"
	StateConfirmingSummary       State = "CONFIRMING_SUMMARY"
	StateAwaitingCorrectionField State = "AWAITING_CORRECTION_FIELD"
	StateAwaitingCorrectionValue State = "AWAITING_CORRECTION_VALUE"
	StateCompleted               State = "COMPLETED"
	StateError                   State = "ERROR"
)

var States = []State{
	StateGreeting,
	StateCollecting,
	StateClarifying,
	StateConfirmingSummary,
	StateAwaitingCorrectionField,
	StateAwaitingCorrectionValue,
	StateCompleted,
	StateError,
}

func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// Operational reports whether the orchestrator can run a model turn in this state.
// GREETING and ERROR are healed locally instead.
func (s State) Operational() bool {
	switch s {
	case StateCollecting, StateClarifying, StateConfirmingSummary,
		StateAwaitingCorrectionField, StateAwaitingCorrectionValue:
		return true
	default:
		return false
	}
}

func ParseState(raw string) (State, error) {
	s := State(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", fmt.Errorf("unknown dialogue state %q", raw)
	}
	return s, nil
}

// ExtractedField is one candidate (label, value) pair proposed by the model.
type ExtractedField struct {
	Label string `json:"label" jsonschema:"required,description=The original label name of the form field"`
	Value string `json:"value" jsonschema:"required,description=The value extracted from the user's message"`
}

// TurnResult is the structured output the model must return each turn.
type TurnResult struct {
	ExtractedData  []ExtractedField `json:"extracted_data" jsonschema:"description=All newly extracted field-value pairs this turn; may be empty"`
	BotMessage     string           `json:"bot_message" jsonschema:"required,description=The exact message to say to the user next"`
	NextState      State            `json:"next_state" jsonschema:"required,enum=GREETING,enum=COLLECTING,enum=CLARIFYING,enum=CONFIRMING_SUMMARY,enum=AWAITING_CORRECTION_FIELD,enum=AWAITING_CORRECTION_VALUE,enum=COMPLETED,enum=ERROR,description=The calculated next dialogue state"`
	FieldToCorrect string           `json:"field_to_correct,omitempty" jsonschema:"description=Label to correct; only set when next_state is AWAITING_CORRECTION_VALUE"`
}

// ReadableLabel turns a field identifier like "first_name" into "First Name".
func ReadableLabel(label string) string {
	words := strings.Fields(strings.ReplaceAll(label, "_", " "))
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
