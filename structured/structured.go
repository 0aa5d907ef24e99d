package structured

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"
	"github.com/tbxark/formchat/session"
	"github.com/tbxark/formchat/types"
)

const (
	TurnResultToolName        = "submit_turn_result"
	TurnResultToolDescription = "Submit the extracted form fields, the next message for the user and the next dialogue state."
)

// Generator sends the conversation history plus a per-turn instruction to the
// language model and returns its raw text output.
type Generator interface {
	Generate(ctx context.Context, history []*schema.Message, instruction string) (string, error)
}

// Chain is a Generator backed by an eino chat model. With a ToolInfo set the
// model is forced to answer through that tool and the tool arguments are
// returned; otherwise the message content is returned.
type Chain struct {
	ChatModel model.BaseChatModel
	ToolInfo  *schema.ToolInfo
	Trimmer   session.Trimmer

	breaker *gobreaker.CircuitBreaker
}

type chainOptions struct {
	trimmer     session.Trimmer
	maxFailures uint32
	openTimeout time.Duration
}

type ChainOption func(*chainOptions)

// WithTrimmer bounds the history sent to the model.
func WithTrimmer(trimmer session.Trimmer) ChainOption {
	return func(o *chainOptions) {
		o.trimmer = trimmer
	}
}

// WithBreaker configures the circuit breaker: it opens after maxFailures
// consecutive failures and stays open for openTimeout.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) ChainOption {
	return func(o *chainOptions) {
		o.maxFailures = maxFailures
		o.openTimeout = openTimeout
	}
}

// NewChain returns a Chain that reads the JSON contract from plain message content.
func NewChain(chatModel model.BaseChatModel, opts ...ChainOption) *Chain {
	return newChain(chatModel, nil, opts...)
}

// NewToolChain returns a Chain that forces the model to call a tool whose
// parameters are derived from TOutput.
func NewToolChain[TOutput any](chatModel model.ToolCallingChatModel, toolName, toolDesc string, opts ...ChainOption) (*Chain, error) {
	toolInfo, err := utils.GoStruct2ToolInfo[TOutput](toolName, toolDesc)
	if err != nil {
		return nil, fmt.Errorf("convert tool info failed: %w", err)
	}
	return newChain(chatModel, toolInfo, opts...), nil
}

// NewTurnResultChain is NewToolChain for the turn result contract.
func NewTurnResultChain(chatModel model.ToolCallingChatModel, opts ...ChainOption) (*Chain, error) {
	return NewToolChain[types.TurnResult](chatModel, TurnResultToolName, TurnResultToolDescription, opts...)
}

func newChain(chatModel model.BaseChatModel, toolInfo *schema.ToolInfo, opts ...ChainOption) *Chain {
	options := chainOptions{
		maxFailures: 5,
		openTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	maxFailures := options.maxFailures
	settings := gobreaker.Settings{
		Name:        "language-model",
		MaxRequests: 1,
		Timeout:     options.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return maxFailures > 0 && counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker changed state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Chain{
		ChatModel: chatModel,
		ToolInfo:  toolInfo,
		Trimmer:   options.trimmer,
		breaker:   gobreaker.NewCircuitBreaker(settings),
	}
}

// Generate fails with types.ErrServiceUnavailable when the model call fails,
// times out or the breaker is open.
func (s *Chain) Generate(ctx context.Context, history []*schema.Message, instruction string) (string, error) {
	messages := s.buildMessages(history, instruction)

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.ChatModel.Generate(ctx, messages, s.modelOptions()...)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: language model circuit open: %v", types.ErrServiceUnavailable, err)
		}
		return "", fmt.Errorf("%w: call model failed: %v", types.ErrServiceUnavailable, err)
	}

	response, _ := result.(*schema.Message)
	if response == nil {
		return "", fmt.Errorf("%w: empty model response", types.ErrServiceUnavailable)
	}
	if s.ToolInfo != nil && len(response.ToolCalls) > 0 {
		return response.ToolCalls[0].Function.Arguments, nil
	}
	return response.Content, nil
}

func (s *Chain) buildMessages(history []*schema.Message, instruction string) []*schema.Message {
	if s.Trimmer != nil {
		history = s.Trimmer.Trim(history)
	}
	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, history...)
	return append(messages, schema.UserMessage(instruction))
}

func (s *Chain) modelOptions() []model.Option {
	if s.ToolInfo == nil {
		return nil
	}
	return []model.Option{
		model.WithTools([]*schema.ToolInfo{s.ToolInfo}),
		model.WithToolChoice(schema.ToolChoiceForced, s.ToolInfo.Name),
	}
}

func (s *Chain) GetToolInfo() *schema.ToolInfo {
	return s.ToolInfo
}

var _ Generator = (*Chain)(nil)
