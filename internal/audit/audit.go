// Package audit delivers cost events and terminal request summaries to
// external sinks for spend reconciliation and compliance review.
package audit

import (
	"context"
	"log/slog"

	"github.com/imagemux/imagemux/pkg/types"
)

// Sink receives audit records. Implementations must be safe for
// concurrent use; delivery failures must not affect request processing.
type Sink interface {
	// RecordCost receives the single cost event emitted when a request
	// reaches a terminal state.
	RecordCost(ctx context.Context, event *types.CostEvent) error

	// RecordTransition receives one event per lifecycle state change
	// and per provider attempt outcome.
	RecordTransition(ctx context.Context, event *types.TransitionEvent) error

	// RecordTerminal receives the final generation record.
	RecordTerminal(ctx context.Context, record *types.GenerationRecord) error

	// Close flushes buffered records and releases resources.
	Close(ctx context.Context) error
}

// LogSink writes audit records to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// RecordCost implements Sink.
func (s *LogSink) RecordCost(ctx context.Context, event *types.CostEvent) error {
	s.logger.InfoContext(ctx, "cost event",
		"request_id", event.RequestID,
		"department_id", event.DepartmentID,
		"user_id", event.UserID,
		"provider", event.Provider,
		"estimated_cost", event.EstimatedCost.String(),
		"actual_cost", event.ActualCost.String(),
		"currency", event.Currency,
	)
	return nil
}

// RecordTransition implements Sink.
func (s *LogSink) RecordTransition(ctx context.Context, event *types.TransitionEvent) error {
	attrs := []any{
		"event_type", event.EventType,
		"request_id", event.RequestID,
		"department_id", event.DepartmentID,
		"user_id", event.UserID,
		"status", string(event.Status),
	}
	if event.Provider != "" {
		attrs = append(attrs, "provider", event.Provider)
	}
	if event.Attempt != nil {
		attrs = append(attrs,
			"attempt", event.Attempt.Number,
			"outcome", string(event.Attempt.Outcome),
		)
	}
	s.logger.InfoContext(ctx, "transition event", attrs...)
	return nil
}

// RecordTerminal implements Sink.
func (s *LogSink) RecordTerminal(ctx context.Context, record *types.GenerationRecord) error {
	s.logger.InfoContext(ctx, "generation finished",
		"request_id", record.ID,
		"status", string(record.Status),
		"provider", record.Provider,
		"attempts", len(record.Attempts),
		"cost", record.Cost.String(),
		"reason", record.Reason,
	)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close(context.Context) error { return nil }

// MultiSink fans records out to several sinks. Errors from individual
// sinks are collected; the first one is returned.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// RecordCost implements Sink.
func (m *MultiSink) RecordCost(ctx context.Context, event *types.CostEvent) error {
	var first error
	for _, s := range m.sinks {
		if err := s.RecordCost(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RecordTransition implements Sink.
func (m *MultiSink) RecordTransition(ctx context.Context, event *types.TransitionEvent) error {
	var first error
	for _, s := range m.sinks {
		if err := s.RecordTransition(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RecordTerminal implements Sink.
func (m *MultiSink) RecordTerminal(ctx context.Context, record *types.GenerationRecord) error {
	var first error
	for _, s := range m.sinks {
		if err := s.RecordTerminal(ctx, record); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close implements Sink.
func (m *MultiSink) Close(ctx context.Context) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
