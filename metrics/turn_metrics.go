package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("formchat")

// TurnMetrics records conversation activity.
type TurnMetrics struct {
	turnsCounter         metric.Int64Counter
	turnDuration         metric.Float64Histogram
	sessionsActive       metric.Int64UpDownCounter
	modelFailuresCounter metric.Int64Counter
	recoveriesCounter    metric.Int64Counter
	notificationsCounter metric.Int64Counter
}

func NewTurnMetrics() (*TurnMetrics, error) {
	turnsCounter, err := meter.Int64Counter(
		"formchat.turns",
		metric.WithDescription("Total number of conversation turns processed"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, err
	}

	turnDuration, err := meter.Float64Histogram(
		"formchat.turn.duration",
		metric.WithDescription("Duration of a conversation turn in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	sessionsActive, err := meter.Int64UpDownCounter(
		"formchat.sessions.active",
		metric.WithDescription("Number of live conversation sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	modelFailuresCounter, err := meter.Int64Counter(
		"formchat.model.failures",
		metric.WithDescription("Language model calls that failed or timed out"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	recoveriesCounter, err := meter.Int64Counter(
		"formchat.interpreter.recoveries",
		metric.WithDescription("Model outputs that needed fenced-block recovery or the fallback result"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}

	notificationsCounter, err := meter.Int64Counter(
		"formchat.notifications",
		metric.WithDescription("Completion notifications attempted"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	return &TurnMetrics{
		turnsCounter:         turnsCounter,
		turnDuration:         turnDuration,
		sessionsActive:       sessionsActive,
		modelFailuresCounter: modelFailuresCounter,
		recoveriesCounter:    recoveriesCounter,
		notificationsCounter: notificationsCounter,
	}, nil
}

// RecordTurn records a completed turn and its state transition.
func (m *TurnMetrics) RecordTurn(ctx context.Context, from, to string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	)
	m.turnsCounter.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *TurnMetrics) RecordSessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
}

func (m *TurnMetrics) RecordSessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
}

func (m *TurnMetrics) RecordModelFailure(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.modelFailuresCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordRecovery records an interpreter outcome other than a clean parse.
func (m *TurnMetrics) RecordRecovery(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.recoveriesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *TurnMetrics) RecordNotification(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.notificationsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
