package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a generation request.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusValidating  Status = "VALIDATING"
	StatusBudgetCheck Status = "BUDGET_CHECK"
	StatusDispatching Status = "DISPATCHING"
	StatusProcessing  Status = "PROCESSING"
	StatusRetrying    Status = "RETRYING"
	StatusFallback    Status = "FALLBACK"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusRejected    Status = "REJECTED"
	StatusBlocked     Status = "BLOCKED"
	StatusCancelled   Status = "CANCELLED"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// AttemptOutcome classifies a single provider call.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeTimeout AttemptOutcome = "timeout"
	OutcomeError   AttemptOutcome = "error"
)

// Attempt records one provider call inside a request's lifecycle.
type Attempt struct {
	Provider    string         `json:"provider"`
	Number      int            `json:"number"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Outcome     AttemptOutcome `json:"outcome"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// GenerationRecord aggregates a request, its attempt history, and its terminal
// result. It is created when a request enters the orchestrator and mutated
// only by the orchestrator until a terminal status is reached.
type GenerationRecord struct {
	ID          string            `json:"id"`
	Request     GenerationRequest `json:"request"`
	Status      Status            `json:"status"`
	Provider    string            `json:"provider,omitempty"`
	Attempts    []Attempt         `json:"attempts,omitempty"`
	Cost        decimal.Decimal   `json:"cost"`
	Images      []string          `json:"images,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// AttemptsFor counts attempts made against one provider.
func (r *GenerationRecord) AttemptsFor(provider string) int {
	n := 0
	for _, a := range r.Attempts {
		if a.Provider == provider {
			n++
		}
	}
	return n
}

// Transition event types.
const (
	// EventStatusChanged marks a request entering a new lifecycle state.
	EventStatusChanged = "status_changed"
	// EventAttemptFinished marks one provider call completing, in any
	// outcome.
	EventAttemptFinished = "attempt_finished"
)

// TransitionEvent is the per-transition audit fact. One is emitted for
// every lifecycle state a request enters and for every provider attempt
// outcome, so the external audit stream can reconstruct the request's
// path without access to the repository.
type TransitionEvent struct {
	RequestID    string    `json:"request_id"`
	DepartmentID string    `json:"department_id"`
	UserID       string    `json:"user_id"`
	EventType    string    `json:"event_type"`
	Status       Status    `json:"status,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Attempt      *Attempt  `json:"attempt,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// CostEvent is the immutable spend fact emitted exactly once per terminal
// request. ActualCost equals EstimatedCost unless the provider reported a
// different final cost; terminal states that spent nothing carry zero.
type CostEvent struct {
	RequestID     string          `json:"request_id"`
	DepartmentID  string          `json:"department_id"`
	UserID        string          `json:"user_id"`
	Provider      string          `json:"provider,omitempty"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	ActualCost    decimal.Decimal `json:"actual_cost"`
	Currency      string          `json:"currency"`
	Timestamp     time.Time       `json:"timestamp"`
}
