package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/schema"
	"github.com/tbxark/formchat/conversation"
	"github.com/tbxark/formchat/types"
)

var _ adk.Agent = (*Agent)(nil)

type sessionKeyContext struct{}

// WithSessionID routes agent runs in ctx to a conversation session.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKeyContext{}, id)
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKeyContext{}).(string)
	return id, ok && id != ""
}

// Turner runs one conversation turn.
type Turner interface {
	Turn(ctx context.Context, req conversation.TurnRequest) (*conversation.TurnResponse, error)
}

// Agent exposes a conversation session as an eino ADK agent. Each run feeds
// the last input message to the session and emits the bot reply.
type Agent struct {
	name        string
	description string
	turner      Turner
}

func NewAgent(name, description string, turner Turner) *Agent {
	return &Agent{
		name:        name,
		description: description,
		turner:      turner,
	}
}

func (a *Agent) Name(ctx context.Context) string {
	return a.name
}

func (a *Agent) Description(ctx context.Context) string {
	return a.description
}

func (a *Agent) Run(ctx context.Context, input *adk.AgentInput, options ...adk.AgentRunOption) *adk.AsyncIterator[*adk.AgentEvent] {
	iter, gen := adk.NewAsyncIteratorPair[*adk.AgentEvent]()
	go func() {
		defer func() {
			e := recover()
			if e != nil {
				gen.Send(&adk.AgentEvent{
					Err: fmt.Errorf("recover from panic: %v", e),
				})
			}
			gen.Close()
		}()
		sessionID, ok := SessionIDFromContext(ctx)
		if !ok {
			gen.Send(&adk.AgentEvent{
				Err: fmt.Errorf("%w: no session id in context", types.ErrInvalidArgument),
			})
			return
		}
		if input == nil || len(input.Messages) == 0 {
			gen.Send(&adk.AgentEvent{
				Err: errors.New("no messages in input"),
			})
			return
		}
		resp, err := a.turner.Turn(ctx, conversation.TurnRequest{
			SessionID: sessionID,
			Message:   input.Messages[len(input.Messages)-1].Content,
		})
		if err != nil {
			gen.Send(&adk.AgentEvent{
				Err: fmt.Errorf("conversation turn failed: %w", err),
			})
			return
		}
		gen.Send(&adk.AgentEvent{
			Output: &adk.AgentOutput{
				MessageOutput: &adk.MessageVariant{
					IsStreaming: false,
					Message:     schema.AssistantMessage(resp.BotMessage, nil),
					Role:        schema.Assistant,
				},
			},
		})
	}()
	return iter
}
