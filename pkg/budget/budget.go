// Package budget defines the ledger contract guarding department spending
// allowances. Implementations (in-memory and Redis-backed) live in the
// top-level budgets package.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Mode is the department-level enforcement policy.
type Mode string

const (
	// ModeHard rejects reservations that would exceed the limit.
	ModeHard Mode = "hard"
	// ModeSoft admits over-limit reservations but reports every violation.
	ModeSoft Mode = "soft"
	// ModeWarn behaves like soft and additionally fires threshold alerts.
	ModeWarn Mode = "warn"
)

// AlertPolicy controls threshold-crossing notification frequency.
type AlertPolicy string

const (
	// AlertFireOnce fires one alert per threshold per period.
	AlertFireOnce AlertPolicy = "fire_once"
	// AlertFireAlways fires on every reservation above the threshold.
	AlertFireAlways AlertPolicy = "fire_always"
)

// Period identifies the budget window (one account per department per month).
type Period struct {
	Year  int
	Month time.Month
}

// CurrentPeriod returns the period containing now, in UTC.
func CurrentPeriod(now time.Time) Period {
	now = now.UTC()
	return Period{Year: now.Year(), Month: now.Month()}
}

// String renders the period as "YYYY-MM".
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Account is one department's allowance for one period. Committed is
// confirmed spend; Reserved is in-flight spend not yet confirmed. Under hard
// mode, committed+reserved <= limit holds before any reservation is accepted.
type Account struct {
	DepartmentID          string          `json:"department_id"`
	Period                Period          `json:"period"`
	Limit                 decimal.Decimal `json:"limit"`
	Committed             decimal.Decimal `json:"committed"`
	Reserved              decimal.Decimal `json:"reserved"`
	Mode                  Mode            `json:"mode"`
	AlertThresholdPercent int             `json:"alert_threshold_percent"`
}

// Remaining returns limit - committed - reserved. Negative under soft/warn.
func (a Account) Remaining() decimal.Decimal {
	return a.Limit.Sub(a.Committed).Sub(a.Reserved)
}

// Reservation is a provisional hold against a department's limit. Exactly one
// of Commit or Release must be applied to each reservation.
type Reservation struct {
	ID           string          `json:"id"`
	DepartmentID string          `json:"department_id"`
	Period       Period          `json:"period"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Violation is reported on the side channel when a soft/warn reservation
// pushes a department past its limit or an alert threshold.
type Violation struct {
	DepartmentID     string          `json:"department_id"`
	Period           Period          `json:"period"`
	Limit            decimal.Decimal `json:"limit"`
	Projected        decimal.Decimal `json:"projected"`
	ThresholdPercent int             `json:"threshold_percent,omitempty"`
	OverLimit        bool            `json:"over_limit"`
}

// AlertFunc receives soft-mode violations and warn-mode threshold alerts.
type AlertFunc func(Violation)

var (
	// ErrBudgetExceeded is returned by Reserve under hard mode when the
	// reservation would push committed+reserved past the limit.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrReservationSettled is returned when Commit or Release is applied
	// to an already settled reservation.
	ErrReservationSettled = errors.New("reservation already settled")

	// ErrReservationUnknown is returned for reservations the ledger never
	// issued.
	ErrReservationUnknown = errors.New("unknown reservation")

	// ErrAccountUnknown is returned when no account exists for the
	// department and period.
	ErrAccountUnknown = errors.New("unknown budget account")
)

// Ledger owns atomic reserve/commit/release of department allowances. All
// three operations on the same department are linearizable; operations on
// different departments do not block each other.
type Ledger interface {
	// Reserve atomically checks the enforcement mode and, if admitted,
	// increments the department's reserved spend.
	Reserve(ctx context.Context, departmentID string, amount decimal.Decimal) (*Reservation, error)

	// Commit converts the reservation into committed spend, correcting for
	// any difference between estimated and actual cost.
	Commit(ctx context.Context, res *Reservation, actual decimal.Decimal) error

	// Release reverses the reservation with no effect on committed spend.
	Release(ctx context.Context, res *Reservation) error

	// Account returns the current snapshot for a department and period.
	Account(ctx context.Context, departmentID string, period Period) (Account, error)
}
