package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
	"github.com/tbxark/formchat/interpret"
	"github.com/tbxark/formchat/metrics"
	"github.com/tbxark/formchat/notify"
	"github.com/tbxark/formchat/patch"
	"github.com/tbxark/formchat/prompt"
	"github.com/tbxark/formchat/session"
	"github.com/tbxark/formchat/structured"
	"github.com/tbxark/formchat/transcribe"
	"github.com/tbxark/formchat/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultModelTimeout  = 30 * time.Second
	DefaultNotifyTimeout = notify.DefaultTimeout
)

type StartRequest struct {
	SessionID   string
	Labelset    []string
	CallbackURL string
}

type StartResponse struct {
	Message      string      `json:"message"`
	NextQuestion string      `json:"nextQuestion"`
	SessionState types.State `json:"sessionState"`
}

// TurnRequest carries either a text message or recorded audio. Audio wins when both are set.
type TurnRequest struct {
	SessionID   string
	Message     string
	Audio       []byte
	AudioFormat string
}

// TurnResponse is the outcome of one turn. Filled and Remaining are only
// meaningful when Detailed is set; short-circuit replies leave them empty.
type TurnResponse struct {
	BotMessage      string
	Filled          map[string]string
	Remaining       []string
	SessionState    types.State
	TranscribedText *string
	Detailed        bool
}

// Orchestrator runs the conversation state machine over a session registry.
type Orchestrator struct {
	registry    *session.Registry
	generator   structured.Generator
	notifier    notify.Notifier
	transcriber transcribe.Transcriber
	metrics     *metrics.TurnMetrics
	tracer      trace.Tracer

	modelTimeout  time.Duration
	notifyTimeout time.Duration
}

type Option func(*Orchestrator)

func WithTranscriber(t transcribe.Transcriber) Option {
	return func(o *Orchestrator) { o.transcriber = t }
}

func WithMetrics(m *metrics.TurnMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithModelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.modelTimeout = d }
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.notifyTimeout = d }
}

func New(registry *session.Registry, generator structured.Generator, notifier notify.Notifier, opts ...Option) *Orchestrator {
	if registry == nil {
		registry = session.NewMemoryRegistry()
	}
	o := &Orchestrator{
		registry:      registry,
		generator:     generator,
		notifier:      notifier,
		tracer:        otel.Tracer("formchat-conversation"),
		modelTimeout:  DefaultModelTimeout,
		notifyTimeout: DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func (o *Orchestrator) Registry() *session.Registry {
	return o.registry
}

// Start creates or replaces a session and asks the first question.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	ctx, span := o.tracer.Start(ctx, "conversation.start")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", req.SessionID))

	_, existsErr := o.registry.Get(ctx, strings.TrimSpace(req.SessionID))
	sess, err := o.registry.Create(ctx, req.SessionID, req.Labelset, req.CallbackURL)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if existsErr != nil {
		o.metrics.RecordSessionStarted(ctx)
	}

	sess.LockTurn()
	defer sess.UnlockTurn()

	first := sess.NextLabel()
	if first == "" {
		message := GreetingMessage + "\n" + NoQuestionsMessage
		sess.SetState(types.StateCompleted)
		sess.AppendHistory(schema.AssistantMessage(message, nil))
		o.finish(ctx, sess, false)
		slog.Info("Session started with no fields", "session_id", sess.ID)
		return &StartResponse{Message: StartedMessage, NextQuestion: message, SessionState: types.StateCompleted}, nil
	}

	question := firstQuestion(first)
	sess.SetState(types.StateCollecting)
	sess.SetLastQuestion(first)
	sess.AppendHistory(
		schema.AssistantMessage(GreetingMessage, nil),
		schema.AssistantMessage(question, nil),
	)
	slog.Info("Session started", "session_id", sess.ID, "labelset", sess.Labelset(), "state", types.StateCollecting)
	return &StartResponse{
		Message:      StartedMessage,
		NextQuestion: GreetingMessage + "\n" + question,
		SessionState: types.StateCollecting,
	}, nil
}

// Turn advances a session by one user message. Only ErrNotFound and
// ErrServiceUnavailable escape; every other condition becomes a bot message.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	ctx = callbacks.EnsureRunInfo(ctx, "FormChat", "Orchestrator")
	ctx = callbacks.OnStart(ctx, map[string]any{
		"session_id": req.SessionID,
		"message":    req.Message,
		"audio":      len(req.Audio) > 0,
	})
	ctx, span := o.tracer.Start(ctx, "conversation.turn")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", req.SessionID))

	resp, err := o.turn(ctx, req)
	if err != nil {
		span.RecordError(err)
		callbacks.OnError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("state", string(resp.SessionState)))
	callbacks.OnEnd(ctx, map[string]any{
		"bot_message": resp.BotMessage,
		"state":       string(resp.SessionState),
	})
	return resp, nil
}

func (o *Orchestrator) turn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	sess, err := o.registry.Get(ctx, req.SessionID)
	if err != nil {
		slog.Warn("Turn for unknown session", "session_id", req.SessionID)
		return nil, err
	}

	sess.LockTurn()
	defer sess.UnlockTurn()

	// The session may have been completed or replaced while we waited.
	if !o.registry.Owns(ctx, req.SessionID, sess) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, req.SessionID)
	}
	if sess.State() == types.StateCompleted {
		slog.Info("Session already completed", "session_id", sess.ID)
		return &TurnResponse{BotMessage: AlreadyCompleteMessage, SessionState: types.StateCompleted}, nil
	}

	message, soft := o.resolveInput(ctx, sess, req)
	if soft != nil {
		return soft, nil
	}
	transcript := message

	start := time.Now()
	from := sess.State()

	var resp *TurnResponse
	if !from.Operational() {
		resp = o.heal(sess, message)
	} else {
		resp, err = o.advance(ctx, sess, message)
		if err != nil {
			return nil, err
		}
	}
	resp.TranscribedText = &transcript
	o.metrics.RecordTurn(ctx, string(from), string(resp.SessionState), time.Since(start))
	return resp, nil
}

// resolveInput returns the user text, or a soft reply when there is none.
func (o *Orchestrator) resolveInput(ctx context.Context, sess *session.Session, req TurnRequest) (string, *TurnResponse) {
	if len(req.Audio) > 0 {
		text, err := o.transcribe(ctx, req.Audio, req.AudioFormat)
		if err != nil {
			slog.Error("Audio transcription failed", "session_id", sess.ID, "error", err)
			failed := TranscriptionFailedText
			return "", &TurnResponse{BotMessage: TranscriptionFailed, SessionState: sess.State(), TranscribedText: &failed}
		}
		slog.Info("Transcribed audio", "session_id", sess.ID, "text", text)
		return text, nil
	}
	if text := strings.TrimSpace(req.Message); text != "" {
		return text, nil
	}
	slog.Warn("Received empty message", "session_id", sess.ID)
	empty := ""
	return "", &TurnResponse{BotMessage: NoInputMessage, SessionState: sess.State(), TranscribedText: &empty}
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if o.transcriber == nil {
		return "", fmt.Errorf("%w: no transcriber configured", types.ErrTranscription)
	}
	text, err := o.transcriber.Transcribe(ctx, audio, format)
	if err != nil {
		return "", err
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", fmt.Errorf("%w: empty transcript", types.ErrTranscription)
	}
	return text, nil
}

// heal moves a session out of GREETING or ERROR without consulting the model.
func (o *Orchestrator) heal(sess *session.Session, message string) *TurnResponse {
	slog.Warn("Session in non-operational state, restarting collection", "session_id", sess.ID, "state", sess.State())
	sess.AppendHistory(schema.UserMessage(message))

	next := sess.NextLabel()
	if next == "" {
		sess.SetState(types.StateConfirmingSummary)
		reply := summaryMessage("", sess.Summary())
		sess.AppendHistory(schema.AssistantMessage(reply, nil))
		return o.detailed(sess, reply)
	}
	reply := restartQuestion(next)
	sess.SetState(types.StateCollecting)
	sess.SetLastQuestion(next)
	sess.AppendHistory(schema.AssistantMessage(reply, nil))
	return o.detailed(sess, reply)
}

func (o *Orchestrator) advance(ctx context.Context, sess *session.Session, message string) (*TurnResponse, error) {
	prevState := sess.State()
	prevTarget := sess.FieldToCorrect()

	raw, err := o.generate(ctx, sess, message)
	if err != nil {
		o.metrics.RecordModelFailure(ctx, string(prevState))
		slog.Error("Language model call failed", "session_id", sess.ID, "state", prevState, "error", err)
		return nil, err
	}

	outcome := interpret.Interpret(raw, prevState)
	if outcome.Source != interpret.SourcePrimary {
		o.metrics.RecordRecovery(ctx, string(outcome.Source))
	}
	result := outcome.Result

	// The turn is committed from here on.
	sess.AppendHistory(schema.UserMessage(message))

	nextState := result.NextState
	slog.Info("State transition proposed", "session_id", sess.ID, "from", prevState, "to", nextState)

	o.merge(sess, result.ExtractedData, prevState, prevTarget, nextState)

	botMessage := result.BotMessage
	unanswered := sess.Unanswered()
	switch {
	case nextState == types.StateGreeting || nextState == types.StateError:
		if len(unanswered) > 0 {
			slog.Warn("Model proposed a non-operational state, restarting collection", "session_id", sess.ID, "state", nextState)
			nextState = types.StateCollecting
			botMessage = restartQuestion(unanswered[0])
		} else {
			nextState = types.StateConfirmingSummary
		}
	case (nextState == types.StateCompleted || nextState == types.StateConfirmingSummary) && len(unanswered) > 0:
		slog.Warn("Model proposed completion with unanswered fields", "session_id", sess.ID, "state", nextState, "unanswered", unanswered)
		nextState = types.StateCollecting
		botMessage = missingFieldsQuestion(unanswered[0])
	}

	sess.SetState(nextState)
	o.trackCorrectionTarget(sess, nextState, result.FieldToCorrect)
	o.trackLastQuestion(sess, nextState)
	if nextState != prevState {
		slog.Info("Session state changed", "session_id", sess.ID, "from", prevState, "to", nextState)
	}

	switch {
	case nextState == types.StateConfirmingSummary && prevState != types.StateConfirmingSummary:
		sess.AppendHistory(schema.AssistantMessage(botMessage, nil))
		return o.detailed(sess, summaryMessage(botMessage, sess.Summary())), nil
	case nextState == types.StateCompleted:
		sess.AppendHistory(schema.AssistantMessage(botMessage, nil))
		resp := o.detailed(sess, botMessage)
		resp.Remaining = []string{}
		o.finish(ctx, sess, true)
		return resp, nil
	default:
		sess.AppendHistory(schema.AssistantMessage(botMessage, nil))
		return o.detailed(sess, botMessage), nil
	}
}

func (o *Orchestrator) generate(ctx context.Context, sess *session.Session, message string) (string, error) {
	if o.generator == nil {
		return "", fmt.Errorf("%w: no language model configured", types.ErrServiceUnavailable)
	}
	instruction := prompt.Build(sess.Snapshot(), message)
	history := append(sess.History(), schema.UserMessage(message))

	callCtx := ctx
	if o.modelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.modelTimeout)
		defer cancel()
	}
	raw, err := o.generator.Generate(callCtx, history, instruction)
	if err != nil {
		if errors.Is(err, types.ErrServiceUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", types.ErrServiceUnavailable, err)
	}
	return raw, nil
}

// merge writes extraction items into the session's responses. During a
// correction turn only the field being corrected may change.
func (o *Orchestrator) merge(sess *session.Session, items []types.ExtractedField, prevState types.State, prevTarget string, nextState types.State) {
	correcting := prevState == types.StateAwaitingCorrectionValue && prevTarget != ""
	ops := make([]patch.Operation, 0, len(items))
	for _, item := range items {
		value := strings.TrimSpace(item.Value)
		if !sess.HasLabel(item.Label) || value == "" {
			slog.Warn("Ignoring invalid extraction", "session_id", sess.ID, "label", item.Label, "value", item.Value)
			continue
		}
		switch {
		case correcting && item.Label == prevTarget:
			slog.Info("Correcting field", "session_id", sess.ID, "label", item.Label)
		case correcting:
			slog.Info("Ignoring extraction outside the field being corrected", "session_id", sess.ID, "label", item.Label, "field_to_correct", prevTarget)
			continue
		case nextState != types.StateAwaitingCorrectionValue:
			slog.Debug("Storing field", "session_id", sess.ID, "label", item.Label)
		default:
			slog.Info("Ignoring extraction while awaiting a correction", "session_id", sess.ID, "label", item.Label)
			continue
		}
		ops = append(ops, patch.SetField(item.Label, value))
	}
	if err := sess.ApplyPatch(ops); err != nil {
		slog.Error("Failed to apply extractions", "session_id", sess.ID, "error", err)
	}
}

func (o *Orchestrator) trackCorrectionTarget(sess *session.Session, nextState types.State, proposed string) {
	if nextState != types.StateAwaitingCorrectionValue || proposed == "" {
		return
	}
	if err := sess.SetFieldToCorrect(proposed); err != nil {
		slog.Warn("Model suggested correcting an unknown field", "session_id", sess.ID, "field", proposed)
		_ = sess.SetFieldToCorrect("")
	}
}

func (o *Orchestrator) trackLastQuestion(sess *session.Session, nextState types.State) {
	switch nextState {
	case types.StateCollecting:
		sess.SetLastQuestion(sess.NextLabel())
	case types.StateClarifying:
		if _, answered := sess.Responses()[sess.LastQuestion()]; answered || sess.LastQuestion() == "" {
			sess.SetLastQuestion(sess.NextLabel())
		}
	}
}

// finish notifies the callback destination and drops the session. The
// registry entry is removed even when delivery fails.
func (o *Orchestrator) finish(ctx context.Context, sess *session.Session, deliver bool) {
	ctx = context.WithoutCancel(ctx)
	if deliver {
		o.deliver(ctx, sess)
	}
	if err := o.registry.Remove(ctx, sess.ID, sess); err != nil {
		slog.Error("Failed to remove completed session", "session_id", sess.ID, "error", err)
		return
	}
	o.metrics.RecordSessionEnded(ctx)
	slog.Info("Session completed and removed", "session_id", sess.ID)
}

func (o *Orchestrator) deliver(ctx context.Context, sess *session.Session) {
	if o.notifier == nil {
		slog.Warn("No notifier configured, skipping callback", "session_id", sess.ID)
		return
	}
	if o.notifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.notifyTimeout)
		defer cancel()
	}
	payload := notify.Payload{FormID: sess.ID, Responses: sess.Responses()}
	if err := o.notifier.Notify(ctx, sess.CallbackURL, payload); err != nil {
		o.metrics.RecordNotification(ctx, false)
		slog.Error("Completion callback failed", "session_id", sess.ID, "destination", sess.CallbackURL, "error", err)
		return
	}
	o.metrics.RecordNotification(ctx, true)
	slog.Info("Completion callback sent", "session_id", sess.ID)
}

func (o *Orchestrator) detailed(sess *session.Session, botMessage string) *TurnResponse {
	return &TurnResponse{
		BotMessage:   botMessage,
		Filled:       sess.Responses(),
		Remaining:    sess.Unanswered(),
		SessionState: sess.State(),
		Detailed:     true,
	}
}

// Sessions lists snapshots of all live sessions.
func (o *Orchestrator) Sessions(ctx context.Context) ([]session.Snapshot, error) {
	return o.registry.List(ctx)
}
