// Package budgets provides Ledger implementations: an in-process ledger for
// single-instance deployments and a Redis-backed ledger for multi-instance
// deployments sharing one allowance pool.
package budgets

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imagemux/imagemux/pkg/budget"
)

// MemoryLedger keeps accounts and reservations in process memory. Each
// account carries its own mutex, so reservations against different
// departments never block each other while operations on the same department
// are linearizable.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*memAccount

	resMu        sync.Mutex
	reservations map[string]*memReservation

	alert  budget.AlertFunc
	policy budget.AlertPolicy
	logger *slog.Logger
	now    func() time.Time
}

type memAccount struct {
	mu      sync.Mutex
	acct    budget.Account
	alerted bool // threshold alert fired this period (fire-once policy)
}

type memReservation struct {
	res     budget.Reservation
	account *memAccount
	settled bool
}

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithAlertFunc sets the soft/warn violation side channel.
func WithAlertFunc(fn budget.AlertFunc) MemoryOption {
	return func(l *MemoryLedger) { l.alert = fn }
}

// WithAlertPolicy sets the threshold notification policy (default fire-once).
func WithAlertPolicy(p budget.AlertPolicy) MemoryOption {
	return func(l *MemoryLedger) { l.policy = p }
}

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(l *MemoryLedger) { l.logger = logger }
}

// WithClock overrides the time source, used to pin the period in tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) { l.now = now }
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		accounts:     make(map[string]*memAccount),
		reservations: make(map[string]*memReservation),
		policy:       budget.AlertFireOnce,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Provision installs or replaces an account. Called when a department is
// provisioned and by the external period-reset trigger.
func (l *MemoryLedger) Provision(acct budget.Account) {
	key := accountKey(acct.DepartmentID, acct.Period)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[key] = &memAccount{acct: acct}
}

// Reserve implements budget.Ledger.
func (l *MemoryLedger) Reserve(_ context.Context, departmentID string, amount decimal.Decimal) (*budget.Reservation, error) {
	period := budget.CurrentPeriod(l.now())
	ma := l.account(departmentID, period)

	ma.mu.Lock()
	defer ma.mu.Unlock()

	acct := &ma.acct
	projected := acct.Committed.Add(acct.Reserved).Add(amount)

	// Zero limit means no budget was set for the period: spend is tracked
	// but never enforced.
	limited := acct.Limit.IsPositive()

	if limited && projected.GreaterThan(acct.Limit) {
		switch acct.Mode {
		case budget.ModeHard:
			return nil, budget.ErrBudgetExceeded
		default:
			l.logger.Warn("budget limit exceeded under non-hard enforcement",
				"department_id", departmentID,
				"period", period.String(),
				"projected", projected.String(),
				"limit", acct.Limit.String(),
				"mode", string(acct.Mode),
			)
			l.emit(budget.Violation{
				DepartmentID: departmentID,
				Period:       period,
				Limit:        acct.Limit,
				Projected:    projected,
				OverLimit:    true,
			})
		}
	}

	if limited && acct.Mode == budget.ModeWarn && acct.AlertThresholdPercent > 0 {
		threshold := acct.Limit.Mul(decimal.NewFromInt(int64(acct.AlertThresholdPercent))).Div(decimal.NewFromInt(100))
		if projected.GreaterThanOrEqual(threshold) {
			fire := l.policy == budget.AlertFireAlways || !ma.alerted
			if fire {
				ma.alerted = true
				l.emit(budget.Violation{
					DepartmentID:     departmentID,
					Period:           period,
					Limit:            acct.Limit,
					Projected:        projected,
					ThresholdPercent: acct.AlertThresholdPercent,
				})
			}
		}
	}

	acct.Reserved = acct.Reserved.Add(amount)

	res := budget.Reservation{
		ID:           uuid.NewString(),
		DepartmentID: departmentID,
		Period:       period,
		Amount:       amount,
		CreatedAt:    l.now(),
	}

	l.resMu.Lock()
	l.reservations[res.ID] = &memReservation{res: res, account: ma}
	l.resMu.Unlock()

	return &res, nil
}

// Commit implements budget.Ledger.
func (l *MemoryLedger) Commit(_ context.Context, res *budget.Reservation, actual decimal.Decimal) error {
	return l.settle(res, func(acct *budget.Account, amount decimal.Decimal) {
		acct.Reserved = acct.Reserved.Sub(amount)
		acct.Committed = acct.Committed.Add(actual)
	})
}

// Release implements budget.Ledger.
func (l *MemoryLedger) Release(_ context.Context, res *budget.Reservation) error {
	return l.settle(res, func(acct *budget.Account, amount decimal.Decimal) {
		acct.Reserved = acct.Reserved.Sub(amount)
	})
}

// Account implements budget.Ledger.
func (l *MemoryLedger) Account(_ context.Context, departmentID string, period budget.Period) (budget.Account, error) {
	l.mu.RLock()
	ma, ok := l.accounts[accountKey(departmentID, period)]
	l.mu.RUnlock()
	if !ok {
		return budget.Account{}, budget.ErrAccountUnknown
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()
	return ma.acct, nil
}

func (l *MemoryLedger) settle(res *budget.Reservation, apply func(acct *budget.Account, amount decimal.Decimal)) error {
	if res == nil {
		return budget.ErrReservationUnknown
	}

	l.resMu.Lock()
	mr, ok := l.reservations[res.ID]
	l.resMu.Unlock()
	if !ok {
		return budget.ErrReservationUnknown
	}

	mr.account.mu.Lock()
	defer mr.account.mu.Unlock()
	if mr.settled {
		return budget.ErrReservationSettled
	}
	mr.settled = true
	apply(&mr.account.acct, mr.res.Amount)
	return nil
}

// account returns the tracked account, creating an unenforced zero-limit
// account when the department has none for the period.
func (l *MemoryLedger) account(departmentID string, period budget.Period) *memAccount {
	key := accountKey(departmentID, period)

	l.mu.RLock()
	ma, ok := l.accounts[key]
	l.mu.RUnlock()
	if ok {
		return ma
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if ma, ok = l.accounts[key]; ok {
		return ma
	}
	ma = &memAccount{acct: budget.Account{
		DepartmentID: departmentID,
		Period:       period,
		Mode:         budget.ModeHard,
	}}
	l.accounts[key] = ma
	return ma
}

func (l *MemoryLedger) emit(v budget.Violation) {
	if l.alert != nil {
		l.alert(v)
	}
}

func accountKey(departmentID string, period budget.Period) string {
	return departmentID + "|" + period.String()
}
