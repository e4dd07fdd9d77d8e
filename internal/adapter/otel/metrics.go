package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "contextforge"

// Metrics holds all ContextForge metric instruments.
type Metrics struct {
	TurnsStarted   metric.Int64Counter
	TurnsCompleted metric.Int64Counter
	TurnsFailed    metric.Int64Counter
	Transitions    metric.Int64Counter
	Fragments      metric.Int64Counter
	ToolCalls      metric.Int64Counter
	TurnDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("contextforge.turns.started",
		metric.WithDescription("Number of conversation turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("contextforge.turns.completed",
		metric.WithDescription("Number of conversation turns completed"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("contextforge.turns.failed",
		metric.WithDescription("Number of conversation turns failed"))
	if err != nil {
		return nil, err
	}

	m.Transitions, err = meter.Int64Counter("contextforge.state.transitions",
		metric.WithDescription("Number of state machine transitions"))
	if err != nil {
		return nil, err
	}

	m.Fragments, err = meter.Int64Counter("contextforge.stream.fragments",
		metric.WithDescription("Number of streamed fragments recorded"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("contextforge.toolcalls",
		metric.WithDescription("Number of tool calls executed"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("contextforge.turn.duration_seconds",
		metric.WithDescription("Turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
