package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 20 * time.Second

// Payload is the body delivered to a session's callback destination.
type Payload struct {
	FormID    string            `json:"formId"`
	Responses map[string]string `json:"responses"`
}

// Notifier delivers the final responses of a completed session.
type Notifier interface {
	Notify(ctx context.Context, destination string, payload Payload) error
}

// HTTPNotifier POSTs the payload as JSON. It makes a single attempt.
type HTTPNotifier struct {
	httpClient *http.Client
	tracer     trace.Tracer
}

func NewHTTPNotifier(timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPNotifier{
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("formchat-notifier"),
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, destination string, payload Payload) error {
	ctx, span := n.tracer.Start(ctx, "notify.completion")
	defer span.End()
	span.SetAttributes(attribute.String("form_id", payload.FormID))

	if err := n.post(ctx, destination, payload); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (n *HTTPNotifier) post(ctx context.Context, destination string, payload Payload) error {
	if destination == "" {
		return fmt.Errorf("no callback destination for form %s", payload.FormID)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, string(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

var _ Notifier = (*HTTPNotifier)(nil)
