// Package dispatch implements the Dispatcher: the orchestration component
// that takes an admitted Query through classification, budget enforcement,
// breaker-aware fallback, retry, and session/ledger bookkeeping.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gatewaydev/dispatchcore/internal/adapter"
	"github.com/gatewaydev/dispatchcore/internal/breaker"
	"github.com/gatewaydev/dispatchcore/internal/budget"
	"github.com/gatewaydev/dispatchcore/internal/classify"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
	"github.com/gatewaydev/dispatchcore/internal/heartbeat"
	"github.com/gatewaydev/dispatchcore/internal/ledger"
	"github.com/gatewaydev/dispatchcore/internal/session"
)

// Retry tuning, per the exponential-backoff-with-jitter policy: base 1s,
// capped at 30s, at most 3 retries per target, jitter factor in [0.8,1.2].
const (
	baseDelay   = time.Second
	maxDelay    = 30 * time.Second
	maxRetries  = 3
	jitterLow   = 0.8
	jitterRange = 0.4 // factor = jitterLow + rand()*jitterRange, giving [0.8,1.2]
)

// Response is what a successful dispatch returns to the caller.
type Response struct {
	TaskID       string
	Text         string
	Tier         gatewaytypes.ModelTier
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Cached       bool
}

// Dispatcher composes every admission and execution component into the
// single dispatch(Query) -> Response | Error operation.
type Dispatcher struct {
	classifier *classify.Classifier
	pool       *classify.Pool
	cache      *classify.DecisionCache
	enforcer   *budget.Enforcer
	led        ledger.Ledger
	sessions   *session.Store
	br         *breaker.Breaker
	targets    map[gatewaytypes.ModelTier]adapter.Target
	heartbeats *heartbeat.Registry
	queueSize  int64
	maxTurns   int
	logger     zerolog.Logger
}

// New builds a Dispatcher from its fully-constructed collaborators.
// maxTurns bounds how many recent session messages are exported upstream
// on each dispatch, per the Session Store's bounded-context contract.
func New(
	classifier *classify.Classifier,
	pool *classify.Pool,
	cache *classify.DecisionCache,
	enforcer *budget.Enforcer,
	led ledger.Ledger,
	sessions *session.Store,
	br *breaker.Breaker,
	targets map[gatewaytypes.ModelTier]adapter.Target,
	heartbeats *heartbeat.Registry,
	maxTurns int,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		classifier: classifier,
		pool:       pool,
		cache:      cache,
		enforcer:   enforcer,
		led:        led,
		sessions:   sessions,
		br:         br,
		targets:    targets,
		heartbeats: heartbeats,
		maxTurns:   maxTurns,
		logger:     logger.With().Str("component", "dispatch").Logger(),
	}
}

// QueueSize reports the current number of in-flight dispatches, the figure
// fed into the budget enforcer's queue-size gate.
func (d *Dispatcher) QueueSize() int {
	return int(atomic.LoadInt64(&d.queueSize))
}

// Dispatch runs one query through the full admission-and-execution
// pipeline. On failure the error is a *gatewaytypes.Error or wraps one
// (errors.As finds it), except when the context is cancelled during a
// retry wait: then the wrapped cause is the context's own error.
func (d *Dispatcher) Dispatch(ctx context.Context, q gatewaytypes.Query) (Response, error) {
	// A saturated queue is rejected before classification or any ledger
	// touch, per the queue-overflow boundary behavior.
	if d.enforcer.QueueFull(q.ProjectID, d.QueueSize()) {
		return Response{}, gatewaytypes.NewClientError(gatewaytypes.CodeQueueFull, "queue is at capacity")
	}

	taskID := uuid.NewString()

	atomic.AddInt64(&d.queueSize, 1)
	defer atomic.AddInt64(&d.queueSize, -1)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if d.heartbeats != nil {
		d.heartbeats.Register(taskID, string(q.SessionKey), cancel)
		defer d.heartbeats.Unregister(taskID)
	}

	decision := d.route(q)
	chain := d.pool.FallbackChain(decision.Tier)
	if len(chain) == 0 {
		return Response{}, gatewaytypes.NewInternalError(gatewaytypes.CodeInternal, "no configured tiers available", nil)
	}

	history := d.sessions.Recent(runCtx, q.SessionKey, d.maxTurns)
	messages := append(history, gatewaytypes.Message{Role: gatewaytypes.RoleUser, Content: q.Content, Timestamp: time.Now().UTC()})

	var lastErr error
	for _, tier := range chain {
		target, ok := d.targets[tier]
		if !ok {
			continue
		}

		if !d.br.Available(string(tier)) {
			d.cache.Invalidate(q.Content)
			d.logger.Debug().Str("task_id", taskID).Str("tier", string(tier)).Msg("breaker open, skipping target")
			continue
		}

		outcome := d.attemptTier(runCtx, taskID, q, tier, target, messages, decision)
		if outcome.fatal != nil {
			return Response{}, outcome.fatal
		}
		if outcome.err == nil {
			return outcome.resp, nil
		}
		lastErr = outcome.err
	}

	if lastErr == nil {
		lastErr = gatewaytypes.NewTransientError(gatewaytypes.CodeUpstreamFailed, "no targets were available", nil)
	}
	return Response{}, fmt.Errorf("all targets failed for task %s: %w", taskID, lastErr)
}

// tierOutcome is the result of one fallback-chain attempt: exactly one of
// resp (success), err (retryable, try the next tier), or fatal (return to
// the caller immediately) is populated.
type tierOutcome struct {
	resp  Response
	err   error
	fatal error
}

// attemptTier runs the budget re-check, the upstream call, and the ledger
// record for one candidate tier. The budget read and the ledger record it
// gates are run inside the enforcer's per-project critical section (when
// strict mode is enabled), so a concurrent dispatcher for the same
// project-id cannot observe a ledger state this attempt has already
// committed to spending against, under strict-bounding mode.
func (d *Dispatcher) attemptTier(runCtx context.Context, taskID string, q gatewaytypes.Query, tier gatewaytypes.ModelTier, target adapter.Target, messages []gatewaytypes.Message, decision gatewaytypes.RoutingDecision) tierOutcome {
	var outcome tierOutcome

	d.enforcer.WithCriticalSection(q.ProjectID, func() {
		cfg, _ := d.pool.Tier(tier)
		estimatedCost := budget.EstimateCost(q.Content, cfg)
		bd := d.enforcer.Check(runCtx, q.ProjectID, estimatedCost, d.QueueSize())
		if bd.Verdict == gatewaytypes.VerdictReject {
			d.br.ReleaseProbe(string(tier))
			outcome.err = gatewaytypes.NewClientError(gatewaytypes.CodeBudgetExceeded, bd.Reason)
			return
		}

		result, err := d.callWithRetry(runCtx, taskID, string(tier), target, messages, cfg.MaxOutputTokens)
		if err != nil {
			d.br.OnFailure(string(tier))
			outcome.err = err
			return
		}

		d.br.OnSuccess(string(tier))
		cost := ledger.Cost(result.InputTokens, result.OutputTokens, cfg.InputPricePerMtk, cfg.OutputPricePerMtk)

		now := time.Now().UTC()
		if recErr := d.led.Record(runCtx, gatewaytypes.SpendRecord{
			Timestamp: now, SessionKey: q.SessionKey, ProjectID: q.ProjectID,
			Tier: tier, InputTokens: result.InputTokens, OutputTokens: result.OutputTokens, CostUSD: cost,
		}); recErr != nil {
			d.logger.Error().Err(recErr).Str("task_id", taskID).Msg("ledger record failed")
			outcome.fatal = gatewaytypes.NewInternalError(gatewaytypes.CodeInternal, "cost record failed", recErr)
			return
		}

		d.sessions.Append(runCtx, q.SessionKey, gatewaytypes.RoleUser, q.Content, now)
		d.sessions.Append(runCtx, q.SessionKey, gatewaytypes.RoleAssistant, result.Text, now)

		outcome.resp = Response{
			TaskID: taskID, Text: result.Text, Tier: tier,
			InputTokens: result.InputTokens, OutputTokens: result.OutputTokens,
			CostUSD: cost, Cached: decision.Cached,
		}
	})

	return outcome
}

// route resolves a RoutingDecision for q: an explicit model override that
// names a configured tier bypasses classification and the cache entirely;
// otherwise the decision cache is consulted before falling back to
// classify+select. RequestedAgent is not consulted.
func (d *Dispatcher) route(q gatewaytypes.Query) gatewaytypes.RoutingDecision {
	if q.RequestedModel != "" {
		tier := gatewaytypes.ModelTier(q.RequestedModel)
		if _, ok := d.pool.Tier(tier); ok {
			return gatewaytypes.RoutingDecision{Tier: tier, ModelName: q.RequestedModel, Reason: "explicit override"}
		}
	}

	if cached, ok := d.cache.Lookup(q.Content); ok {
		return cached
	}

	classification := d.classifier.Classify(q.Content)
	decision := d.pool.Select(classification)
	d.cache.Store(q.Content, decision)
	return decision
}

// callWithRetry drives one target's retry loop: transient and rate-limit
// failures are retried with exponential backoff and jitter up to
// maxRetries; rate-limit errors additionally honor the upstream's
// Retry-After; client and permanent errors abort the target immediately.
func (d *Dispatcher) callWithRetry(ctx context.Context, taskID, targetName string, target adapter.Target, messages []gatewaytypes.Message, maxOutputTokens int) (gatewaytypes.UpstreamResult, error) {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if d.heartbeats != nil {
			d.heartbeats.Touch(taskID)
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if target.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, target.Timeout)
		}
		var result gatewaytypes.UpstreamResult
		result, err = target.Adapter.Call(callCtx, messages, maxOutputTokens)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}

		gwErr, ok := err.(*gatewaytypes.Error)
		if !ok {
			return gatewaytypes.UpstreamResult{}, err
		}

		switch gwErr.Kind {
		case gatewaytypes.KindClient, gatewaytypes.KindPermanent:
			return gatewaytypes.UpstreamResult{}, err
		case gatewaytypes.KindRateLimit:
			if attempt == maxRetries {
				return gatewaytypes.UpstreamResult{}, err
			}
			wait := gwErr.RetryAfter
			if wait <= 0 {
				wait = backoffDelay(attempt)
			}
			if sleepOrDone(ctx, wait) {
				return gatewaytypes.UpstreamResult{}, ctx.Err()
			}
		case gatewaytypes.KindTransient:
			if attempt == maxRetries {
				return gatewaytypes.UpstreamResult{}, err
			}
			if sleepOrDone(ctx, backoffDelay(attempt)) {
				return gatewaytypes.UpstreamResult{}, ctx.Err()
			}
		default:
			return gatewaytypes.UpstreamResult{}, err
		}

		d.logger.Debug().Str("task_id", taskID).Str("target", targetName).
			Int("attempt", attempt+1).Msg("retrying upstream call")
	}
	return gatewaytypes.UpstreamResult{}, err
}

// backoffDelay computes base * 2^attempt, capped at maxDelay, then applies
// a random jitter factor in [0.8, 1.2].
func backoffDelay(attempt int) time.Duration {
	d := baseDelay * time.Duration(1<<uint(attempt))
	if d > maxDelay {
		d = maxDelay
	}
	jitter := jitterLow + rand.Float64()*jitterRange
	return time.Duration(float64(d) * jitter)
}

// sleepOrDone waits for d or ctx's cancellation, whichever comes first,
// reporting whether ctx was the reason it returned.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
