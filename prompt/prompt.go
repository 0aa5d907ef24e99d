package prompt

import (
	"fmt"
	"strings"

	"github.com/tbxark/formchat/session"
	"github.com/tbxark/formchat/types"
)

const noRecentMessage = "No recent user message."

// DefaultRolePrompt opens every instruction. It has no placeholders.
const DefaultRolePrompt = `You are a friendly and patient chatbot assistant helping a visually impaired user fill out a form.
Be conversational and clear. Ask one question at a time unless the user provides multiple answers.
If the user's response is ambiguous or doesn't directly answer the question, ask for clarification.
When asking about a field, use its readable name (e.g., ask "What is your First Name?" for the label "first_name").`

const closingDirective = `You MUST respond with a single JSON object ONLY, matching this structure:
{
  "extracted_data": [
    {"label": "original_label_name", "value": "extracted_value"}
  ],
  "bot_message": "The exact message to say to the user next.",
  "next_state": "One of: %s",
  "field_to_correct": "label_name or null"
}
"extracted_data" lists every pair newly extracted this turn and may be empty.
"field_to_correct" is only non-null when "next_state" is AWAITING_CORRECTION_VALUE.
Ensure the JSON is valid. Do not include any text outside the JSON object.`

// Build renders the per-turn instruction for snap and the latest user message.
// The output depends only on its arguments.
func Build(snap session.Snapshot, lastUserMessage string) string {
	if strings.TrimSpace(lastUserMessage) == "" {
		lastUserMessage = noRecentMessage
	}
	sections := []string{
		DefaultRolePrompt,
		formatContextSection(snap, lastUserMessage),
		stateDirectives(snap, lastUserMessage),
		fmt.Sprintf(closingDirective, formatStates()),
	}
	return strings.Join(sections, "\n\n")
}

func formatContextSection(snap session.Snapshot, lastUserMessage string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Fields to collect:\n%s\n\n", types.FormatLabelList(snap.Labelset, "None"))
	fmt.Fprintf(&sb, "# Current Conversation State:\n%s\n\n", snap.State)
	fmt.Fprintf(&sb, "# Fields yet to be collected:\n%s\n\n", types.FormatLabelList(snap.Unanswered, "None - all collected!"))
	fmt.Fprintf(&sb, "# Fields already collected:\n%s\n\n", types.FormatFieldTable(snap.Labelset, snap.Responses))
	fmt.Fprintf(&sb, "# Last user input to analyze:\n%q", lastUserMessage)
	return sb.String()
}

func stateDirectives(snap session.Snapshot, msg string) string {
	labels := types.FormatLabelList(snap.Labelset, "None")
	unanswered := types.FormatLabelList(snap.Unanswered, "None")
	next := firstOr(snap.Unanswered, "None")
	asked := snap.LastQuestion
	if asked == "" {
		asked = next
	}

	switch snap.State {
	case types.StateCollecting:
		return numbered(
			fmt.Sprintf("Analyze the user's last input (%q).", msg),
			fmt.Sprintf("Decide whether the user provided information for the field '%s' or any other UNANSWERED fields (%s).", asked, unanswered),
			fmt.Sprintf("Extract all valid field-value pairs found for UNANSWERED fields from the last input. Match extracted values to the ORIGINAL label names in the list: %s.", labels),
			fmt.Sprintf("If the answer for '%s' is unclear or missing based on the last input, formulate a `bot_message` asking for clarification on THAT field and set `next_state` to 'CLARIFYING'.", asked),
			fmt.Sprintf("If information was extracted from the last input AND there are still unanswered fields, formulate a `bot_message` acknowledging the received info (if any) and asking clearly for the *next* unanswered field: '%s'. Set `next_state` to 'COLLECTING'.", next),
			"If information was extracted from the last input AND *all* fields are now answered, formulate a `bot_message` acknowledging the last piece of info and stating you will now summarize. Set `next_state` to 'CONFIRMING_SUMMARY'.",
			fmt.Sprintf("If the user's last input seems unrelated or doesn't contain form data, gently guide them back by re-asking for '%s'. Set `next_state` to 'COLLECTING'.", asked),
			"If the user's input contains a date in any form, convert it to the standard format DD/MM/YYYY and extract it.",
			"If the label is about a name, ask the user to spell out the name and extract only the name itself without any characters in between the letters. Names may be single letter initials.",
		)
	case types.StateClarifying:
		return numbered(
			fmt.Sprintf("The user responded to your clarification request regarding the field '%s' with %q. Analyze the new message and try to extract the value for '%s'.", asked, msg, asked),
			"If the value is now clear, extract it.",
			fmt.Sprintf("Check if *all* fields are now answered. If YES: formulate a `bot_message` acknowledging the info and stating you will summarize; set `next_state` to 'CONFIRMING_SUMMARY'. If NO: formulate a `bot_message` acknowledging the info and asking for the *next* unanswered field: '%s'; set `next_state` to 'COLLECTING'.", next),
			fmt.Sprintf("If the user's response is *still* unclear, formulate a `bot_message` politely stating you're still having trouble and ask again for '%s', phrased differently. Keep `next_state` as 'CLARIFYING'.", asked),
			fmt.Sprintf("If the user provided data for *other* unanswered fields instead, extract that data, acknowledge it, and ask for the next required field ('%s' or the still-needed original field). Set `next_state` to 'COLLECTING'.", next),
		)
	case types.StateConfirmingSummary:
		return numbered(
			fmt.Sprintf("You just presented the summary of collected data. The user's message (%q) is their response to whether it's correct. Decide whether it indicates confirmation (e.g., \"yes\", \"correct\", \"looks good\", \"ok\", \"submit it\").", msg),
			"If YES: formulate a final `bot_message` confirming submission (e.g., \"Great! Submitting the form now.\"). Set `next_state` to 'COMPLETED'.",
			fmt.Sprintf("If NO (e.g., \"no\", \"wrong\", \"mistake\", \"change something\"): formulate a `bot_message` asking *which field* needs correction. List the available field names if helpful: %s. Set `next_state` to 'AWAITING_CORRECTION_FIELD'.", labels),
			"If the response is unclear: formulate a `bot_message` asking for a clear yes or no confirmation. Keep `next_state` as 'CONFIRMING_SUMMARY'.",
		)
	case types.StateAwaitingCorrectionField:
		return numbered(
			fmt.Sprintf("You asked the user which field to correct. Their message (%q) should contain the name of the field. Identify which field label they want to correct. It must be one of: %s.", msg, labels),
			"If a valid field label is identified: formulate a `bot_message` asking for the *new value* for that specific field. Set `next_state` to 'AWAITING_CORRECTION_VALUE' and put the identified field label in `field_to_correct`.",
			fmt.Sprintf("If no valid field label is identified or the message is unclear: formulate a `bot_message` asking them again to specify which field from the list (%s) needs correcting. Keep `next_state` as 'AWAITING_CORRECTION_FIELD'.", labels),
		)
	case types.StateAwaitingCorrectionValue:
		target := snap.FieldToCorrect
		return numbered(
			fmt.Sprintf("You asked the user for the new value for the field '%s'. Their message (%q) should contain the new value. Extract the new value for '%s'.", target, msg, target),
			fmt.Sprintf("Formulate a `bot_message` acknowledging the update and stating you will summarize again. Set `next_state` to 'CONFIRMING_SUMMARY'. Include the extracted value for '%s' in `extracted_data`; do not extract values for any other field.", target),
			fmt.Sprintf("If the new value is unclear: formulate a `bot_message` asking again for the new value for '%s'. Keep `next_state` as 'AWAITING_CORRECTION_VALUE' and keep `field_to_correct` as '%s'.", target, target),
		)
	default:
		return numbered(
			"There seems to be an issue with the conversation state. Get back on track by asking what information the user can provide for the form.",
			fmt.Sprintf("Extract any values for UNANSWERED fields (%s) from the last input.", unanswered),
			fmt.Sprintf("Ask for the next unanswered field: '%s'. Set `next_state` to 'COLLECTING'.", next),
		)
	}
}

func numbered(directives ...string) string {
	var sb strings.Builder
	sb.WriteString("# Instructions:")
	for i, d := range directives {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, d)
	}
	return sb.String()
}

func formatStates() string {
	names := make([]string, 0, len(types.States))
	for _, s := range types.States {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func firstOr(labels []string, fallback string) string {
	if len(labels) == 0 {
		return fallback
	}
	return labels[0]
}
