package conversation

import (
	"fmt"

	"github.com/tbxark/formchat/types"
)

const (
	StartedMessage          = "Conversation started"
	GreetingMessage         = "Hello! I'm here to help you fill out a form."
	NoQuestionsMessage      = "It looks like there are no questions for this form."
	AlreadyCompleteMessage  = "This conversation is already complete and the form has been submitted."
	NoInputMessage          = "I didn't receive any message. Please speak or type."
	TranscriptionFailed     = "Sorry, I couldn't process the audio. Please try again or type your answer."
	TranscriptionFailedText = "Transcription failed."
	ConfirmationPrompt      = "Please review the information above. Is everything correct? (Yes/No)"
)

func firstQuestion(label string) string {
	return fmt.Sprintf("Please tell me the information for the fields as I ask for them. Let's start with: What is your %s?", types.ReadableLabel(label))
}

func restartQuestion(label string) string {
	return fmt.Sprintf("Sorry, let's restart. What is your %s?", types.ReadableLabel(label))
}

func missingFieldsQuestion(label string) string {
	return fmt.Sprintf("I still need a few more details before we can finish. What is your %s?", types.ReadableLabel(label))
}

func summaryMessage(botMessage, summary string) string {
	if botMessage == "" {
		return summary + "\n\n" + ConfirmationPrompt
	}
	return botMessage + "\n" + summary + "\n\n" + ConfirmationPrompt
}
