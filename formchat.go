// Package formchat wires an eino chat model into a conversational form orchestrator.
package formchat

import (
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/tbxark/formchat/conversation"
	"github.com/tbxark/formchat/notify"
	"github.com/tbxark/formchat/session"
	"github.com/tbxark/formchat/structured"
)

type options struct {
	registry     *session.Registry
	historyLimit int
	maxFailures  uint32
	openTimeout  time.Duration
	conversation []conversation.Option
}

type Option func(*options)

func WithRegistry(registry *session.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithHistoryLimit bounds the non-system messages sent to the model per turn. Zero keeps everything.
func WithHistoryLimit(n int) Option {
	return func(o *options) { o.historyLimit = n }
}

func WithBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(o *options) {
		o.maxFailures = maxFailures
		o.openTimeout = openTimeout
	}
}

func WithConversationOptions(opts ...conversation.Option) Option {
	return func(o *options) { o.conversation = append(o.conversation, opts...) }
}

func collect(opts []Option) *options {
	o := &options{
		historyLimit: 40,
		maxFailures:  5,
		openTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func (o *options) chainOptions() []structured.ChainOption {
	return []structured.ChainOption{
		structured.WithTrimmer(session.KeepSystemLastNTrimmer{N: o.historyLimit}),
		structured.WithBreaker(o.maxFailures, o.openTimeout),
	}
}

// NewToolBasedOrchestrator forces the model to answer through the turn result tool.
func NewToolBasedOrchestrator(chatModel model.ToolCallingChatModel, notifier notify.Notifier, opts ...Option) (*conversation.Orchestrator, error) {
	o := collect(opts)
	chain, err := structured.NewTurnResultChain(chatModel, o.chainOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn result chain: %w", err)
	}
	return conversation.New(o.registry, chain, notifier, o.conversation...), nil
}

// NewOrchestrator reads the turn result from plain message content.
func NewOrchestrator(chatModel model.BaseChatModel, notifier notify.Notifier, opts ...Option) *conversation.Orchestrator {
	o := collect(opts)
	chain := structured.NewChain(chatModel, o.chainOptions()...)
	return conversation.New(o.registry, chain, notifier, o.conversation...)
}
