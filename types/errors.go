package types

import "errors"

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("session not found")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrSchema             = errors.New("model output does not match the turn result contract")
	ErrTranscription      = errors.New("audio transcription failed")
)
