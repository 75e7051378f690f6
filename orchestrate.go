package imagemux

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/imagemux/imagemux/internal/metrics"
	"github.com/imagemux/imagemux/internal/observability"
	"github.com/imagemux/imagemux/internal/validator"
	"github.com/imagemux/imagemux/pkg/budget"
	muxerrors "github.com/imagemux/imagemux/pkg/errors"
	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/pkg/selector"
	"github.com/imagemux/imagemux/pkg/types"
)

// Generate runs one request through the full pipeline: validation,
// selection, budget reservation, provider dispatch with retry and
// fallback, and settlement. The returned record is terminal; a non-nil
// error carries the terminal classification.
func (c *Client) Generate(ctx context.Context, req *Request) (*Record, error) {
	if req.ID == "" {
		req.ID = generateRequestID()
	}

	if err := req.Validate(c.config.Limits); err != nil {
		return nil, muxerrors.NewValidationError(err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.GlobalDeadline)
	defer cancel()
	c.trackCancel(req.ID, cancel)
	defer c.untrackCancel(req.ID)

	metrics.RequestsInFlight.Inc()
	defer metrics.RequestsInFlight.Dec()

	ctx = observability.ContextWithRequestID(ctx, req.ID)
	logger := c.logger.WithRequestID(ctx)

	ctx, span := c.tracer().Start(ctx, "imagemux.request",
		trace.WithAttributes(
			attribute.String("imagemux.request_id", req.ID),
			attribute.String("imagemux.department", req.DepartmentID),
		),
	)
	defer span.End()

	record := &Record{
		ID:        req.ID,
		Request:   *req,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	c.transition(ctx, record, StatusPending)

	// Validation runs before any budget or provider interaction.
	c.transition(ctx, record, StatusValidating)
	verdict := c.validator.Validate(req.Prompt)
	metrics.ValidationVerdicts.WithLabelValues(string(verdict.Verdict)).Inc()

	switch verdict.Verdict {
	case validator.VerdictBlock:
		err := blockError(verdict)
		logger.Warn("prompt blocked", "reasons", verdict.Reasons())
		return c.finish(ctx, record, StatusBlocked, err.Message, nil, decimal.Zero, decimal.Zero, err)
	case validator.VerdictWarn:
		record.Warnings = verdict.Reasons()
	}

	// Redacted text is what leaves the building.
	prompt := req.Prompt
	if verdict.AnonymizedPrompt != "" {
		prompt = verdict.AnonymizedPrompt
	}

	ranked, err := c.selector.Select(ctx, req, c.candidates, c.weightsFor(req.DepartmentID))
	if err != nil {
		if errors.Is(err, selector.ErrNoEligibleCandidate) {
			genErr := muxerrors.NewNoEligibleProviderError("no eligible provider for request")
			return c.finish(ctx, record, StatusFailed, genErr.Message, nil, decimal.Zero, decimal.Zero, genErr)
		}
		genErr := muxerrors.NewInternalError(err.Error())
		return c.finish(ctx, record, StatusFailed, genErr.Message, nil, decimal.Zero, decimal.Zero, genErr)
	}

	// Reserve the worst case across the fallback chain so a fallback to
	// a pricier provider cannot overshoot the allowance.
	c.transition(ctx, record, StatusBudgetCheck)
	estimate := maxEstimate(ranked, req.ImageCount)

	reservation, err := c.ledger.Reserve(ctx, req.DepartmentID, estimate)
	if err != nil {
		if errors.Is(err, budget.ErrBudgetExceeded) {
			metrics.BudgetReservations.WithLabelValues(req.DepartmentID, "rejected").Inc()
			genErr := muxerrors.NewBudgetExceededError("department budget exceeded")
			// Nothing was admitted, so the cost event carries no estimate.
			return c.finish(ctx, record, StatusRejected, genErr.Message, nil, decimal.Zero, decimal.Zero, genErr)
		}
		genErr := muxerrors.NewInternalError("budget reservation failed: " + err.Error())
		return c.finish(ctx, record, StatusFailed, genErr.Message, nil, decimal.Zero, decimal.Zero, genErr)
	}
	metrics.BudgetReservations.WithLabelValues(req.DepartmentID, "admitted").Inc()

	c.transition(ctx, record, StatusDispatching)
	winner, result, dispatchErr := c.dispatch(ctx, logger, record, ranked, prompt)
	if dispatchErr != nil {
		status, reason := terminalFor(dispatchErr)
		return c.finish(ctx, record, status, reason, reservation, estimate, decimal.Zero, dispatchErr)
	}

	actual := result.ActualCost
	if actual.IsZero() {
		actual = winner.EstimateCost(req.ImageCount)
	}

	record.Provider = winner.Provider
	record.Images = result.Images
	record.Cost = actual
	metrics.CommittedSpend.WithLabelValues(req.DepartmentID, winner.Provider).Add(actual.InexactFloat64())

	_, err = c.finish(ctx, record, StatusCompleted, "", reservation, estimate, actual, nil)
	return record, err
}

// dispatch walks the ranked candidate list, applying the per-provider
// retry policy, and returns the winning candidate and its result.
func (c *Client) dispatch(
	ctx context.Context,
	logger *observability.Logger,
	record *Record,
	ranked []provider.Candidate,
	prompt string,
) (*provider.Candidate, *types.ProviderResult, *muxerrors.GenerationError) {
	var lastErr *muxerrors.GenerationError

	for i := range ranked {
		candidate := &ranked[i]

		if i > 0 {
			c.transition(ctx, record, StatusFallback)
			metrics.FallbacksTotal.WithLabelValues(ranked[i-1].Provider, candidate.Provider).Inc()
			logger.Info("falling back",
				"from", ranked[i-1].Provider,
				"to", candidate.Provider,
			)
		}

		adapter, ok := c.adapters[candidate.Provider]
		if !ok {
			lastErr = muxerrors.NewInternalError("no adapter registered for " + candidate.Provider)
			continue
		}

		result, err := c.attemptProvider(ctx, logger, record, candidate, adapter, prompt)
		if err == nil {
			return candidate, result, nil
		}
		if !isProviderLocal(err) {
			// Cancellation and global deadline end the request, not
			// just this provider.
			return nil, nil, err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = muxerrors.NewNoEligibleProviderError("no eligible provider for request")
	}
	if lastErr.Kind == muxerrors.KindProviderTimeout || lastErr.Kind == muxerrors.KindProviderTransient || lastErr.Kind == muxerrors.KindProviderRejected {
		lastErr = muxerrors.NewInternalError("all providers exhausted: " + lastErr.Message)
	}
	return nil, nil, lastErr
}

// attemptProvider runs the bounded retry loop against one provider.
func (c *Client) attemptProvider(
	ctx context.Context,
	logger *observability.Logger,
	record *Record,
	candidate *provider.Candidate,
	adapter provider.Adapter,
	prompt string,
) (*types.ProviderResult, *muxerrors.GenerationError) {
	var lastErr *muxerrors.GenerationError

	for attempt := 1; attempt <= c.config.MaxAttemptsPerProvider; attempt++ {
		if attempt > 1 {
			c.transition(ctx, record, StatusRetrying)
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		c.transition(ctx, record, StatusProcessing)

		if c.config.RateLimit != nil {
			if err := c.config.RateLimit.Wait(ctx, candidate.Provider); err != nil {
				return nil, contextError(ctx, err)
			}
		}

		result, genErr := c.attemptOnce(ctx, record, candidate, adapter, prompt, attempt)
		if genErr == nil {
			return result, nil
		}
		if !isProviderLocal(genErr) {
			return nil, genErr
		}

		logger.Warn("provider attempt failed",
			"provider", candidate.Provider,
			"attempt", attempt,
			"kind", string(genErr.Kind),
			"error", genErr.Message,
		)

		if !genErr.Retryable {
			// Provider-side rejections skip remaining retries and go
			// straight to the next candidate.
			return nil, genErr
		}
		lastErr = genErr
	}

	return nil, lastErr
}

// attemptOnce issues a single provider call under the per-attempt
// timeout and records the attempt on the record.
func (c *Client) attemptOnce(
	ctx context.Context,
	record *Record,
	candidate *provider.Candidate,
	adapter provider.Adapter,
	prompt string,
	attempt int,
) (*types.ProviderResult, *muxerrors.GenerationError) {
	req := &record.Request

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.AttemptTimeout)
	defer cancel()

	spanCtx, span := observability.StartGenerationSpan(attemptCtx, c.tracer(), "imagemux.generate", observability.GenerationSpanAttributes{
		Provider:   candidate.Provider,
		Department: req.DepartmentID,
		ImageCount: req.ImageCount,
		Size:       string(req.Size),
	})
	defer span.End()

	started := time.Now().UTC()
	result, err := adapter.Generate(spanCtx, &types.ProviderRequest{
		RequestID:      req.ID,
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		ImageCount:     req.ImageCount,
		Size:           req.Size,
		Quality:        req.Quality,
	})
	completed := time.Now().UTC()
	elapsed := completed.Sub(started)

	metrics.AttemptLatency.WithLabelValues(candidate.Provider).Observe(elapsed.Seconds())

	attemptRec := types.Attempt{
		Provider:    candidate.Provider,
		Number:      attempt,
		StartedAt:   started,
		CompletedAt: completed,
	}

	if err == nil {
		attemptRec.Outcome = types.OutcomeSuccess
		record.Attempts = append(record.Attempts, attemptRec)
		c.auditAttempt(ctx, record, attemptRec)
		metrics.AttemptsTotal.WithLabelValues(candidate.Provider, string(types.OutcomeSuccess)).Inc()
		_ = c.stats.RecordSuccess(ctx, candidate.Provider, elapsed)
		return result, nil
	}

	genErr := classify(ctx, attemptCtx, candidate.Provider, err)
	observability.RecordError(span, genErr)
	span.SetStatus(codes.Error, string(genErr.Kind))

	if genErr.Kind == muxerrors.KindProviderTimeout {
		attemptRec.Outcome = types.OutcomeTimeout
	} else {
		attemptRec.Outcome = types.OutcomeError
	}
	attemptRec.ErrorKind = string(genErr.Kind)
	attemptRec.ErrorDetail = genErr.Message
	record.Attempts = append(record.Attempts, attemptRec)
	c.auditAttempt(ctx, record, attemptRec)
	metrics.AttemptsTotal.WithLabelValues(candidate.Provider, string(attemptRec.Outcome)).Inc()

	if isProviderLocal(genErr) {
		_ = c.stats.RecordFailure(ctx, candidate.Provider)
	}
	return nil, genErr
}

// backoff sleeps for the exponential backoff of the given attempt,
// doubling from the base and capped at the configured maximum.
func (c *Client) backoff(ctx context.Context, attempt int) *muxerrors.GenerationError {
	d := c.config.RetryBackoff * time.Duration(1<<(attempt-2))
	if d > c.config.RetryMaxBackoff {
		d = c.config.RetryMaxBackoff
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return contextError(ctx, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// finish drives the record to its terminal state, settles the
// reservation exactly once, and emits the single cost event.
func (c *Client) finish(
	ctx context.Context,
	record *Record,
	status Status,
	reason string,
	reservation *budget.Reservation,
	estimate, actual decimal.Decimal,
	genErr *muxerrors.GenerationError,
) (*Record, error) {
	req := &record.Request

	if reservation != nil {
		// Settlement must not be lost to a dead request context.
		settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		var settleErr error
		if status == StatusCompleted {
			settleErr = c.ledger.Commit(settleCtx, reservation, actual)
		} else {
			settleErr = c.ledger.Release(settleCtx, reservation)
		}
		if settleErr != nil {
			c.logger.WithRequestID(ctx).Error("reservation settlement failed",
				"reservation_id", reservation.ID,
				"error", settleErr,
			)
		}

		if acct, err := c.ledger.Account(settleCtx, reservation.DepartmentID, reservation.Period); err == nil {
			metrics.BudgetRemaining.WithLabelValues(reservation.DepartmentID).Set(acct.Remaining().InexactFloat64())
		}
	}

	now := time.Now().UTC()
	record.Reason = reason
	record.CompletedAt = now
	c.transition(ctx, record, status)

	metrics.GenerationsTotal.WithLabelValues(record.Provider, string(status)).Inc()

	event := &CostEvent{
		RequestID:     record.ID,
		DepartmentID:  req.DepartmentID,
		UserID:        req.UserID,
		Provider:      record.Provider,
		EstimatedCost: estimate,
		ActualCost:    actual,
		Currency:      c.config.Currency,
		Timestamp:     now,
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.sink.RecordCost(auditCtx, event); err != nil {
		c.logger.WithRequestID(ctx).Error("cost event delivery failed", "error", err)
	}
	if err := c.sink.RecordTerminal(auditCtx, record); err != nil {
		c.logger.WithRequestID(ctx).Error("terminal record delivery failed", "error", err)
	}

	if genErr != nil {
		return record, genErr
	}
	return record, nil
}

// transition updates the record status, persists the new state, and
// reports the change to the audit stream.
func (c *Client) transition(ctx context.Context, record *Record, status Status) {
	record.Status = status
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.repo.Save(saveCtx, record); err != nil {
		c.logger.WithRequestID(ctx).Error("record persistence failed",
			"status", string(status),
			"error", err,
		)
	}

	event := &types.TransitionEvent{
		RequestID:    record.ID,
		DepartmentID: record.Request.DepartmentID,
		UserID:       record.Request.UserID,
		EventType:    types.EventStatusChanged,
		Status:       status,
		Provider:     record.Provider,
		Timestamp:    time.Now().UTC(),
	}
	if err := c.sink.RecordTransition(saveCtx, event); err != nil {
		c.logger.WithRequestID(ctx).Error("transition event delivery failed",
			"status", string(status),
			"error", err,
		)
	}
}

// auditAttempt reports one provider attempt outcome to the audit stream.
func (c *Client) auditAttempt(ctx context.Context, record *Record, attempt types.Attempt) {
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	event := &types.TransitionEvent{
		RequestID:    record.ID,
		DepartmentID: record.Request.DepartmentID,
		UserID:       record.Request.UserID,
		EventType:    types.EventAttemptFinished,
		Status:       record.Status,
		Provider:     attempt.Provider,
		Attempt:      &attempt,
		Timestamp:    attempt.CompletedAt,
	}
	if err := c.sink.RecordTransition(emitCtx, event); err != nil {
		c.logger.WithRequestID(ctx).Error("attempt event delivery failed",
			"provider", attempt.Provider,
			"error", err,
		)
	}
}

func (c *Client) tracer() trace.Tracer {
	if c.config.Tracer != nil {
		return c.config.Tracer
	}
	return noop.NewTracerProvider().Tracer(observability.TracerName)
}

// maxEstimate returns the highest cost estimate across the ranked list.
func maxEstimate(ranked []provider.Candidate, imageCount int) decimal.Decimal {
	est := decimal.Zero
	for _, cand := range ranked {
		if e := cand.EstimateCost(imageCount); e.GreaterThan(est) {
			est = e
		}
	}
	return est
}

// blockError maps a BLOCK verdict to the specific error kind.
func blockError(res *validator.Result) *muxerrors.GenerationError {
	for _, iss := range res.Issues {
		if iss.Code == "pii_detected" {
			return muxerrors.NewPIIDetectedError("prompt contains personally identifiable information")
		}
	}
	for _, iss := range res.Issues {
		switch iss.Code {
		case "empty_prompt", "prompt_too_short", "prompt_too_long", "null_bytes", "control_characters", "rule_source_failure":
			return muxerrors.NewValidationError(iss.Message)
		}
	}
	return muxerrors.NewContentViolationError("prompt contains prohibited content")
}

// classify folds adapter and context errors into one taxonomy. The
// parent context takes precedence so a global deadline is not mistaken
// for a retryable per-attempt timeout.
func classify(parent, attempt context.Context, providerName string, err error) *muxerrors.GenerationError {
	if parentErr := parent.Err(); parentErr != nil {
		return contextError(parent, parentErr)
	}

	var genErr *muxerrors.GenerationError
	if errors.As(err, &genErr) {
		if genErr.Kind == muxerrors.KindCancelled && attempt.Err() != nil {
			// The adapter saw our per-attempt deadline firing, which
			// surfaces as cancellation inside the HTTP client.
			return muxerrors.NewProviderTimeoutError(providerName, "attempt deadline exceeded")
		}
		return genErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return muxerrors.NewProviderTimeoutError(providerName, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return muxerrors.NewCancelledError(err.Error())
	}
	return muxerrors.NewInternalError(err.Error())
}

// contextError distinguishes external cancellation from the global
// deadline.
func contextError(ctx context.Context, err error) *muxerrors.GenerationError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return muxerrors.NewDeadlineExceededError("global deadline exceeded")
	}
	return muxerrors.NewCancelledError("request cancelled")
}

// isProviderLocal reports whether the error is confined to one provider
// attempt, as opposed to ending the whole request.
func isProviderLocal(err *muxerrors.GenerationError) bool {
	switch err.Kind {
	case muxerrors.KindProviderTimeout, muxerrors.KindProviderTransient, muxerrors.KindProviderRejected, muxerrors.KindInternal:
		return true
	default:
		return false
	}
}

// terminalFor maps a dispatch error to the terminal status and reason.
func terminalFor(err *muxerrors.GenerationError) (Status, string) {
	switch err.Kind {
	case muxerrors.KindCancelled:
		return StatusCancelled, "request cancelled"
	case muxerrors.KindDeadlineExceeded:
		return StatusFailed, "global deadline exceeded"
	default:
		return StatusFailed, err.Message
	}
}
