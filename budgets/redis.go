package budgets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/imagemux/imagemux/pkg/budget"
)

// microExp is the decimal exponent for micro-unit storage. Redis hashes hold
// int64 micro-units so HINCRBY stays atomic.
const microExp = 6

// RedisLedger stores accounts and reservations in Redis. Lua scripts make
// each reserve/commit/release a single atomic step, so multiple gateway
// instances can share one allowance pool without losing the hard-mode
// invariant.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string

	alert  budget.AlertFunc
	policy budget.AlertPolicy
	resTTL time.Duration
	now    func() time.Time

	reserve *redis.Script
	settle  *redis.Script
}

// RedisOption configures a RedisLedger.
type RedisOption func(*RedisLedger)

// WithRedisKeyPrefix sets the key prefix (default "imagemux:budget").
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLedger) { l.prefix = prefix }
}

// WithRedisAlertFunc sets the soft/warn violation side channel.
func WithRedisAlertFunc(fn budget.AlertFunc) RedisOption {
	return func(l *RedisLedger) { l.alert = fn }
}

// WithRedisAlertPolicy sets the threshold notification policy.
func WithRedisAlertPolicy(p budget.AlertPolicy) RedisOption {
	return func(l *RedisLedger) { l.policy = p }
}

// WithReservationTTL bounds how long an unsettled reservation hash lives.
// The orchestrator settles every reservation it makes; the TTL only guards
// against a crashed instance leaking keys forever.
func WithReservationTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLedger) { l.resTTL = ttl }
}

// WithRedisClock overrides the time source, used to pin the period in tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLedger) { l.now = now }
}

// NewRedisLedger creates a Redis-backed ledger.
func NewRedisLedger(client redis.UniversalClient, opts ...RedisOption) *RedisLedger {
	l := &RedisLedger{
		client:  client,
		prefix:  "imagemux:budget",
		policy:  budget.AlertFireOnce,
		resTTL:  24 * time.Hour,
		now:     time.Now,
		reserve: redis.NewScript(reserveScript),
		settle:  redis.NewScript(settleScript),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Provision installs or replaces an account.
func (l *RedisLedger) Provision(ctx context.Context, acct budget.Account) error {
	key := l.accountKey(acct.DepartmentID, acct.Period)
	return l.client.HSet(ctx, key,
		"limit", toMicro(acct.Limit),
		"committed", toMicro(acct.Committed),
		"reserved", toMicro(acct.Reserved),
		"mode", string(acct.Mode),
		"threshold", acct.AlertThresholdPercent,
		"alerted", "0",
	).Err()
}

// Reserve implements budget.Ledger.
func (l *RedisLedger) Reserve(ctx context.Context, departmentID string, amount decimal.Decimal) (*budget.Reservation, error) {
	period := budget.CurrentPeriod(l.now())
	id := uuid.NewString()

	keys := []string{
		l.accountKey(departmentID, period),
		l.reservationKey(id),
	}
	raw, err := l.reserve.Run(ctx, l.client, keys,
		toMicro(amount),
		int(l.resTTL.Seconds()),
		string(l.policy),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("budget reserve: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 5 {
		return nil, fmt.Errorf("budget reserve: unexpected script reply %v", raw)
	}

	admitted := toInt64(vals[0])
	projected := fromMicro(toInt64(vals[1]))
	limit := fromMicro(toInt64(vals[2]))

	if admitted != 1 {
		return nil, budget.ErrBudgetExceeded
	}

	if l.alert != nil {
		if toInt64(vals[3]) == 1 {
			l.alert(budget.Violation{
				DepartmentID: departmentID,
				Period:       period,
				Limit:        limit,
				Projected:    projected,
				OverLimit:    true,
			})
		}
		if toInt64(vals[4]) == 1 {
			acct, err := l.Account(ctx, departmentID, period)
			threshold := 0
			if err == nil {
				threshold = acct.AlertThresholdPercent
			}
			l.alert(budget.Violation{
				DepartmentID:     departmentID,
				Period:           period,
				Limit:            limit,
				Projected:        projected,
				ThresholdPercent: threshold,
			})
		}
	}

	return &budget.Reservation{
		ID:           id,
		DepartmentID: departmentID,
		Period:       period,
		Amount:       amount,
		CreatedAt:    l.now(),
	}, nil
}

// Commit implements budget.Ledger.
func (l *RedisLedger) Commit(ctx context.Context, res *budget.Reservation, actual decimal.Decimal) error {
	return l.runSettle(ctx, res, strconv.FormatInt(toMicro(actual), 10))
}

// Release implements budget.Ledger.
func (l *RedisLedger) Release(ctx context.Context, res *budget.Reservation) error {
	return l.runSettle(ctx, res, "")
}

// Account implements budget.Ledger.
func (l *RedisLedger) Account(ctx context.Context, departmentID string, period budget.Period) (budget.Account, error) {
	fields, err := l.client.HGetAll(ctx, l.accountKey(departmentID, period)).Result()
	if err != nil {
		return budget.Account{}, fmt.Errorf("budget account: %w", err)
	}
	if len(fields) == 0 {
		return budget.Account{}, budget.ErrAccountUnknown
	}

	acct := budget.Account{
		DepartmentID: departmentID,
		Period:       period,
		Limit:        fromMicro(parseInt(fields["limit"])),
		Committed:    fromMicro(parseInt(fields["committed"])),
		Reserved:     fromMicro(parseInt(fields["reserved"])),
		Mode:         budget.Mode(fields["mode"]),
	}
	acct.AlertThresholdPercent = int(parseInt(fields["threshold"]))
	if acct.Mode == "" {
		acct.Mode = budget.ModeHard
	}
	return acct, nil
}

func (l *RedisLedger) runSettle(ctx context.Context, res *budget.Reservation, actualArg string) error {
	if res == nil {
		return budget.ErrReservationUnknown
	}
	keys := []string{
		l.reservationKey(res.ID),
		l.accountKey(res.DepartmentID, res.Period),
	}
	code, err := l.settle.Run(ctx, l.client, keys, actualArg).Int()
	if err != nil {
		return fmt.Errorf("budget settle: %w", err)
	}
	switch code {
	case 1:
		return nil
	case -1:
		return budget.ErrReservationUnknown
	case -2:
		return budget.ErrReservationSettled
	default:
		return fmt.Errorf("budget settle: unexpected script reply %d", code)
	}
}

func (l *RedisLedger) accountKey(departmentID string, period budget.Period) string {
	return fmt.Sprintf("%s:acct:%s:%s", l.prefix, departmentID, period.String())
}

func (l *RedisLedger) reservationKey(id string) string {
	return fmt.Sprintf("%s:res:%s", l.prefix, id)
}

func toMicro(d decimal.Decimal) int64 {
	return d.Shift(microExp).Round(0).IntPart()
}

func fromMicro(n int64) decimal.Decimal {
	return decimal.New(n, -microExp)
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		return parseInt(n)
	default:
		return 0
	}
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
