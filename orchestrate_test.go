package imagemux

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagemux/imagemux/budgets"
	"github.com/imagemux/imagemux/internal/validator"
	"github.com/imagemux/imagemux/pkg/budget"
	muxerrors "github.com/imagemux/imagemux/pkg/errors"
	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/pkg/types"
)

// scriptedAdapter returns whatever its script says for each call, in order.
// The last script entry repeats once the script is exhausted.
type scriptedAdapter struct {
	name   string
	script []func(ctx context.Context, req *types.ProviderRequest) (*types.ProviderResult, error)

	mu      sync.Mutex
	calls   int
	prompts []string
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) Generate(ctx context.Context, req *types.ProviderRequest) (*types.ProviderResult, error) {
	a.mu.Lock()
	idx := a.calls
	a.calls++
	a.prompts = append(a.prompts, req.Prompt)
	if idx >= len(a.script) {
		idx = len(a.script) - 1
	}
	fn := a.script[idx]
	a.mu.Unlock()
	return fn(ctx, req)
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func succeed(images ...string) func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error) {
	return func(_ context.Context, _ *types.ProviderRequest) (*types.ProviderResult, error) {
		return &types.ProviderResult{Images: images}, nil
	}
}

func fail(err error) func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error) {
	return func(_ context.Context, _ *types.ProviderRequest) (*types.ProviderResult, error) {
		return nil, err
	}
}

func blockUntilDone() func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error) {
	return func(ctx context.Context, _ *types.ProviderRequest) (*types.ProviderResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// countingLedger wraps a real ledger and counts settlement calls.
type countingLedger struct {
	budget.Ledger

	mu       sync.Mutex
	reserves int
	commits  int
	releases int
}

func newCountingLedger(inner budget.Ledger) *countingLedger {
	return &countingLedger{Ledger: inner}
}

func (l *countingLedger) Reserve(ctx context.Context, departmentID string, amount decimal.Decimal) (*budget.Reservation, error) {
	res, err := l.Ledger.Reserve(ctx, departmentID, amount)
	if err == nil {
		l.mu.Lock()
		l.reserves++
		l.mu.Unlock()
	}
	return res, err
}

func (l *countingLedger) Commit(ctx context.Context, res *budget.Reservation, actual decimal.Decimal) error {
	l.mu.Lock()
	l.commits++
	l.mu.Unlock()
	return l.Ledger.Commit(ctx, res, actual)
}

func (l *countingLedger) Release(ctx context.Context, res *budget.Reservation) error {
	l.mu.Lock()
	l.releases++
	l.mu.Unlock()
	return l.Ledger.Release(ctx, res)
}

func (l *countingLedger) counts() (reserves, commits, releases int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserves, l.commits, l.releases
}

// captureSink records delivered audit events in memory.
type captureSink struct {
	mu          sync.Mutex
	costs       []*types.CostEvent
	transitions []*types.TransitionEvent
	terminals   []*types.GenerationRecord
}

func (s *captureSink) RecordCost(_ context.Context, ev *types.CostEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs = append(s.costs, ev)
	return nil
}

func (s *captureSink) RecordTransition(_ context.Context, ev *types.TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, ev)
	return nil
}

func (s *captureSink) RecordTerminal(_ context.Context, rec *types.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminals = append(s.terminals, rec)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func (s *captureSink) costEvents() []*types.CostEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.CostEvent, len(s.costs))
	copy(out, s.costs)
	return out
}

func (s *captureSink) transitionEvents() []*types.TransitionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.TransitionEvent, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// statusSeen reports whether a status_changed event for st was delivered.
func (s *captureSink) statusSeen(st types.Status) bool {
	for _, ev := range s.transitionEvents() {
		if ev.EventType == types.EventStatusChanged && ev.Status == st {
			return true
		}
	}
	return false
}

func (s *captureSink) attemptEvents() []*types.TransitionEvent {
	var out []*types.TransitionEvent
	for _, ev := range s.transitionEvents() {
		if ev.EventType == types.EventAttemptFinished {
			out = append(out, ev)
		}
	}
	return out
}

func testCandidate(name string, cost float64) provider.Candidate {
	return provider.Candidate{
		Provider:      name,
		Model:         name + "-v1",
		CostPerImage:  decimal.NewFromFloat(cost),
		QualityScore:  80,
		SLAPercent:    99.5,
		CommercialUse: true,
		MaxResolution: 2048,
		Enabled:       true,
	}
}

func testRequest() *Request {
	return &Request{
		UserID:       "user-1",
		DepartmentID: "marketing",
		Prompt:       "a watercolor lighthouse at dusk",
		ImageCount:   1,
		Size:         types.SizeSquare,
		Quality:      types.QualityStandard,
		AutoSelect:   true,
	}
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *countingLedger, *captureSink) {
	t.Helper()
	ledger := newCountingLedger(budgets.NewMemoryLedger())
	sink := &captureSink{}
	base := []Option{
		WithLedger(ledger),
		WithAuditSink(sink),
		WithRetryPolicy(2, time.Millisecond, 2*time.Millisecond),
	}
	client, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, ledger, sink
}

func TestGenerateSingleProviderSuccess(t *testing.T) {
	adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		succeed("s3://out/img-1.png"),
	}}
	client, ledger, sink := newTestClient(t,
		WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
	)

	rec, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "dalle", rec.Provider)
	assert.Equal(t, []string{"s3://out/img-1.png"}, rec.Images)
	assert.True(t, rec.Cost.Equal(decimal.NewFromFloat(0.04)), "cost %s", rec.Cost)
	require.Len(t, rec.Attempts, 1)
	assert.Equal(t, types.OutcomeSuccess, rec.Attempts[0].Outcome)
	assert.False(t, rec.CompletedAt.IsZero())

	reserves, commits, releases := ledger.counts()
	assert.Equal(t, 1, reserves)
	assert.Equal(t, 1, commits)
	assert.Equal(t, 0, releases)

	events := sink.costEvents()
	require.Len(t, events, 1)
	assert.Equal(t, rec.ID, events[0].RequestID)
	assert.True(t, events[0].ActualCost.Equal(decimal.NewFromFloat(0.04)))
	assert.Equal(t, "USD", events[0].Currency)
}

func TestGenerateUsesProviderReportedCost(t *testing.T) {
	adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		func(_ context.Context, _ *types.ProviderRequest) (*types.ProviderResult, error) {
			return &types.ProviderResult{
				Images:     []string{"s3://out/img-1.png"},
				ActualCost: decimal.NewFromFloat(0.037),
			}, nil
		},
	}}
	client, _, sink := newTestClient(t,
		WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
	)

	rec, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, rec.Cost.Equal(decimal.NewFromFloat(0.037)), "cost %s", rec.Cost)
	events := sink.costEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].ActualCost.Equal(decimal.NewFromFloat(0.037)))
	assert.True(t, events[0].EstimatedCost.Equal(decimal.NewFromFloat(0.04)))
}

func TestGenerateBlockedPromptTouchesNothing(t *testing.T) {
	adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		succeed("s3://out/never.png"),
	}}
	client, ledger, sink := newTestClient(t,
		WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
	)

	req := testRequest()
	req.Prompt = "id card for 123-45-6789 in pastel colors"

	rec, err := client.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, muxerrors.KindPIIDetected, muxerrors.KindOf(err))

	assert.Equal(t, StatusBlocked, rec.Status)
	assert.Empty(t, rec.Attempts)
	assert.Equal(t, 0, adapter.callCount())

	reserves, commits, releases := ledger.counts()
	assert.Equal(t, 0, reserves)
	assert.Equal(t, 0, commits)
	assert.Equal(t, 0, releases)

	events := sink.costEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].ActualCost.IsZero())
}

func TestGenerateAnonymizedPromptReachesProvider(t *testing.T) {
	adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		succeed("s3://out/img-1.png"),
	}}
	client, _, _ := newTestClient(t,
		WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
		WithValidator(validator.New(validator.WithPIIAction(validator.PIIAnonymize))),
	)

	req := testRequest()
	req.Prompt = "business card mockup for jane@example.com with a blue logo"

	rec, err := client.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)

	require.Equal(t, 1, adapter.callCount())
	assert.NotContains(t, adapter.prompts[0], "jane@example.com")
	assert.Contains(t, adapter.prompts[0], "[EMAIL_REDACTED]")
}

func TestGenerateWarnVerdictProceedsWithWarnings(t *testing.T) {
	adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		succeed("s3://out/img-1.png"),
	}}
	client, _, _ := newTestClient(t,
		WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
		WithValidator(validator.New(validator.WithPIIAction(validator.PIIWarn))),
	)

	req := testRequest()
	req.Prompt = "business card mockup for jane@example.com with a blue logo"

	rec, err := client.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.NotEmpty(t, rec.Warnings)
}

func TestGenerateRuleSourceOutageFollowsFailureMode(t *testing.T) {
	broken := func(string) ([]validator.Issue, error) {
		return nil, errors.New("rule feed unavailable")
	}

	t.Run("strict blocks", func(t *testing.T) {
		adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
			succeed("s3://out/never.png"),
		}}
		client, ledger, _ := newTestClient(t,
			WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
			WithValidator(validator.New(
				validator.WithFailureMode(validator.FailStrict),
				validator.WithRuleSource(broken),
			)),
		)

		rec, err := client.Generate(context.Background(), testRequest())
		require.Error(t, err)
		assert.Equal(t, muxerrors.KindValidation, muxerrors.KindOf(err))
		assert.Equal(t, StatusBlocked, rec.Status)
		assert.Equal(t, 0, adapter.callCount())

		reserves, _, _ := ledger.counts()
		assert.Equal(t, 0, reserves)
	})

	t.Run("lenient warns and proceeds", func(t *testing.T) {
		adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
			succeed("s3://out/img-1.png"),
		}}
		client, _, _ := newTestClient(t,
			WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
			WithValidator(validator.New(
				validator.WithFailureMode(validator.FailLenient),
				validator.WithRuleSource(broken),
			)),
		)

		rec, err := client.Generate(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, rec.Status)
		assert.NotEmpty(t, rec.Warnings)
		assert.Equal(t, 1, adapter.callCount())
	})
}

func TestGenerateRetriesThenFallsBack(t *testing.T) {
	transient := muxerrors.NewProviderTransientError("alpha", "upstream overloaded", 503)
	rejected := muxerrors.NewProviderRejectedError("bravo", "prompt refused", 400)

	alpha := &scriptedAdapter{name: "alpha", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		fail(transient),
	}}
	bravo := &scriptedAdapter{name: "bravo", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		fail(rejected),
	}}
	charlie := &scriptedAdapter{name: "charlie", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		succeed("s3://out/img-1.png"),
	}}

	client, ledger, sink := newTestClient(t,
		WithProviderInstance(alpha, testCandidate("alpha", 0.01)),
		WithProviderInstance(bravo, testCandidate("bravo", 0.02)),
		WithProviderInstance(charlie, testCandidate("charlie", 0.03)),
	)

	rec, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "charlie", rec.Provider)

	// Cheapest first: alpha exhausts its retry allowance, bravo is
	// rejected outright, charlie wins on the first try.
	assert.Equal(t, 2, alpha.callCount())
	assert.Equal(t, 1, bravo.callCount())
	assert.Equal(t, 1, charlie.callCount())
	require.Len(t, rec.Attempts, 4)
	assert.Equal(t, 2, rec.AttemptsFor("alpha"))
	assert.Equal(t, 1, rec.AttemptsFor("bravo"))
	assert.Equal(t, 1, rec.AttemptsFor("charlie"))
	assert.Equal(t, types.OutcomeError, rec.Attempts[0].Outcome)
	assert.Equal(t, types.OutcomeSuccess, rec.Attempts[3].Outcome)

	// The reservation covers the priciest candidate in the chain;
	// settlement commits the winner's estimate.
	assert.True(t, rec.Cost.Equal(decimal.NewFromFloat(0.03)), "cost %s", rec.Cost)
	events := sink.costEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].EstimatedCost.Equal(decimal.NewFromFloat(0.03)))

	reserves, commits, releases := ledger.counts()
	assert.Equal(t, 1, reserves)
	assert.Equal(t, 1, commits)
	assert.Equal(t, 0, releases)
}

func TestGenerateEmitsTransitionStream(t *testing.T) {
	transient := muxerrors.NewProviderTransientError("alpha", "upstream overloaded", 503)

	alpha := &scriptedAdapter{name: "alpha", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		fail(transient),
	}}
	bravo := &scriptedAdapter{name: "bravo", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		fail(transient),
		succeed("s3://out/img-1.png"),
	}}

	client, _, sink := newTestClient(t,
		WithProviderInstance(alpha, testCandidate("alpha", 0.01)),
		WithProviderInstance(bravo, testCandidate("bravo", 0.02)),
	)

	rec, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)

	// Every lifecycle state the request passed through is on the
	// audit stream, including retry and fallback.
	for _, st := range []Status{
		StatusPending, StatusValidating, StatusBudgetCheck,
		StatusDispatching, StatusProcessing, StatusRetrying,
		StatusFallback, StatusCompleted,
	} {
		assert.True(t, sink.statusSeen(st), "missing status_changed event for %s", st)
	}

	// One attempt_finished event per provider call, carrying the
	// outcome and identity fields.
	attempts := sink.attemptEvents()
	require.Len(t, attempts, 4)
	for _, ev := range attempts {
		assert.Equal(t, rec.ID, ev.RequestID)
		assert.Equal(t, "marketing", ev.DepartmentID)
		assert.Equal(t, "user-1", ev.UserID)
		require.NotNil(t, ev.Attempt)
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.Equal(t, "alpha", attempts[0].Provider)
	assert.Equal(t, types.OutcomeError, attempts[0].Attempt.Outcome)
	assert.Equal(t, "bravo", attempts[3].Provider)
	assert.Equal(t, types.OutcomeSuccess, attempts[3].Attempt.Outcome)
}

func TestGenerateAllProvidersExhaustedFails(t *testing.T) {
	transient := muxerrors.NewProviderTransientError("alpha", "upstream overloaded", 503)
	alpha := &scriptedAdapter{name: "alpha", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		fail(transient),
	}}

	client, ledger, sink := newTestClient(t,
		WithProviderInstance(alpha, testCandidate("alpha", 0.01)),
	)

	rec, err := client.Generate(context.Background(), testRequest())
	require.Error(t, err)

	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 2, alpha.callCount())
	assert.True(t, rec.Cost.IsZero())

	reserves, commits, releases := ledger.counts()
	assert.Equal(t, 1, reserves)
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, releases)

	events := sink.costEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].ActualCost.IsZero())
}

func TestGenerateBudgetExceededRejects(t *testing.T) {
	adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		succeed("s3://out/never.png"),
	}}

	mem := budgets.NewMemoryLedger()
	mem.Provision(budget.Account{
		DepartmentID: "marketing",
		Period:       budget.CurrentPeriod(time.Now()),
		Limit:        decimal.NewFromFloat(0.01),
		Mode:         budget.ModeHard,
	})
	ledger := newCountingLedger(mem)
	sink := &captureSink{}

	client, err := New(
		WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
		WithLedger(ledger),
		WithAuditSink(sink),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	rec, err := client.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, muxerrors.KindBudgetExceeded, muxerrors.KindOf(err))

	assert.Equal(t, StatusRejected, rec.Status)
	assert.Equal(t, 0, adapter.callCount())

	reserves, commits, releases := ledger.counts()
	assert.Equal(t, 0, reserves)
	assert.Equal(t, 0, commits)
	assert.Equal(t, 0, releases)

	events := sink.costEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].ActualCost.IsZero())
	// A rejected request was never admitted; its cost event carries no
	// estimate.
	assert.True(t, events[0].EstimatedCost.IsZero(), "estimate %s", events[0].EstimatedCost)
}

func TestGenerateNoEligibleProviderFailsBeforeBudget(t *testing.T) {
	disabled := testCandidate("dalle", 0.04)
	disabled.Enabled = false
	adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		succeed("s3://out/never.png"),
	}}

	client, ledger, sink := newTestClient(t,
		WithProviderInstance(adapter, disabled),
	)

	rec, err := client.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, muxerrors.KindNoEligibleProvider, muxerrors.KindOf(err))

	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 0, adapter.callCount())

	reserves, _, _ := ledger.counts()
	assert.Equal(t, 0, reserves)

	events := sink.costEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].ActualCost.IsZero())
}

func TestGenerateGlobalDeadlineFails(t *testing.T) {
	adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		blockUntilDone(),
	}}

	client, ledger, sink := newTestClient(t,
		WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
		WithGlobalDeadline(50*time.Millisecond),
		WithAttemptTimeout(time.Second),
	)

	rec, err := client.Generate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, muxerrors.KindDeadlineExceeded, muxerrors.KindOf(err))

	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "global deadline exceeded", rec.Reason)
	assert.True(t, rec.Cost.IsZero())

	reserves, commits, releases := ledger.counts()
	assert.Equal(t, 1, reserves)
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, releases)

	events := sink.costEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].ActualCost.IsZero())
}

func TestGeneratePerAttemptTimeoutRetries(t *testing.T) {
	alpha := &scriptedAdapter{name: "alpha", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		blockUntilDone(),
		succeed("s3://out/img-1.png"),
	}}

	client, _, _ := newTestClient(t,
		WithProviderInstance(alpha, testCandidate("alpha", 0.01)),
		WithAttemptTimeout(20*time.Millisecond),
		WithGlobalDeadline(5*time.Second),
	)

	rec, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, rec.Status)
	require.Len(t, rec.Attempts, 2)
	assert.Equal(t, types.OutcomeTimeout, rec.Attempts[0].Outcome)
	assert.Equal(t, types.OutcomeSuccess, rec.Attempts[1].Outcome)
}

func TestGenerateCancelEndsRequest(t *testing.T) {
	adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		blockUntilDone(),
	}}

	client, ledger, sink := newTestClient(t,
		WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
	)

	req := testRequest()
	req.ID = "req-cancel-1"

	go func() {
		for !client.Cancel("req-cancel-1") {
			time.Sleep(time.Millisecond)
		}
	}()

	rec, err := client.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, muxerrors.KindCancelled, muxerrors.KindOf(err))

	assert.Equal(t, StatusCancelled, rec.Status)
	assert.True(t, rec.Cost.IsZero())

	_, commits, releases := ledger.counts()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, releases)

	events := sink.costEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].ActualCost.IsZero())
}

func TestGenerateRecordPersisted(t *testing.T) {
	adapter := &scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
		succeed("s3://out/img-1.png"),
	}}
	client, _, _ := newTestClient(t,
		WithProviderInstance(adapter, testCandidate("dalle", 0.04)),
	)

	rec, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)

	stored, err := client.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, "dalle", stored.Provider)
}

func TestGenerateInvalidRequestShape(t *testing.T) {
	client, ledger, sink := newTestClient(t,
		WithProviderInstance(&scriptedAdapter{name: "dalle", script: []func(context.Context, *types.ProviderRequest) (*types.ProviderResult, error){
			succeed("s3://out/never.png"),
		}}, testCandidate("dalle", 0.04)),
	)

	req := testRequest()
	req.ImageCount = 0

	rec, err := client.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, muxerrors.KindValidation, muxerrors.KindOf(err))

	reserves, _, _ := ledger.counts()
	assert.Equal(t, 0, reserves)
	assert.Empty(t, sink.costEvents())
}
