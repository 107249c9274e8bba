// Package budget implements the Budget Enforcer component: a check over
// (query metadata, ledger state, queue size) producing admit/warn/reject.
package budget

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/gatewaydev/dispatchcore/internal/config"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
	"github.com/gatewaydev/dispatchcore/internal/ledger"
)

// Enforcer evaluates admission decisions against the cost ledger. It is a
// pure function of ledger state plus configuration; it holds no
// per-request mutable state of its own beyond the optional strict-
// bounding critical section.
type Enforcer struct {
	ledger ledger.Reader
	cfg    *config.Config
	strict *KeyedMutex // non-nil enables the strict per-project critical section
	logger zerolog.Logger
}

// NewEnforcer builds an Enforcer. Pass strict=true to wrap ledger reads
// and the caller's subsequent record in a per-project-id critical
// section, for the optional strict-bounding mode.
func NewEnforcer(l ledger.Reader, cfg *config.Config, strict bool, logger zerolog.Logger) *Enforcer {
	e := &Enforcer{ledger: l, cfg: cfg, logger: logger.With().Str("component", "budget").Logger()}
	if strict {
		e.strict = NewKeyedMutex()
	}
	return e
}

// QueueFull reports whether queueSize has already reached the project's
// max-queue gate, independent of any cost estimate. The Dispatcher calls
// this before classification so a saturated queue is rejected immediately,
// per the boundary behavior that queue overflow skips classification and
// never touches the ledger.
func (e *Enforcer) QueueFull(projectID string, queueSize int) bool {
	limits := e.cfg.LimitsForProject(projectID)
	return queueSize >= limits.MaxQueue
}

// Check evaluates the admission decision for a project's estimated cost
// and current queue size.
func (e *Enforcer) Check(ctx context.Context, projectID string, estimatedCost float64, queueSize int) gatewaytypes.BudgetDecision {
	limits := e.cfg.LimitsForProject(projectID)

	if queueSize >= limits.MaxQueue {
		return gatewaytypes.BudgetDecision{
			Verdict: gatewaytypes.VerdictReject, ViolatedGate: gatewaytypes.ScopeMaxQueue,
			Reason: fmt.Sprintf("queue size %d at or above limit %d", queueSize, limits.MaxQueue),
			Limit:  float64(limits.MaxQueue),
		}
	}

	if estimatedCost > limits.PerTaskUSD {
		return gatewaytypes.BudgetDecision{
			Verdict: gatewaytypes.VerdictReject, ViolatedGate: gatewaytypes.ScopePerTask,
			Reason:       fmt.Sprintf("estimated cost %.4f exceeds per-task limit %.4f", estimatedCost, limits.PerTaskUSD),
			CurrentSpend: estimatedCost, Limit: limits.PerTaskUSD,
		}
	}

	daily, err := e.ledger.SpendInCurrentDay(ctx, projectID)
	if err != nil {
		e.logger.Error().Err(err).Str("project_id", projectID).Msg("ledger read failed during daily budget check")
		return gatewaytypes.BudgetDecision{Verdict: gatewaytypes.VerdictReject, ViolatedGate: gatewaytypes.ScopeDaily, Reason: "ledger unavailable"}
	}
	if daily+estimatedCost > limits.DailyUSD {
		return gatewaytypes.BudgetDecision{
			Verdict: gatewaytypes.VerdictReject, ViolatedGate: gatewaytypes.ScopeDaily,
			Reason:       fmt.Sprintf("daily spend %.4f + estimate %.4f exceeds limit %.4f", daily, estimatedCost, limits.DailyUSD),
			CurrentSpend: daily, Limit: limits.DailyUSD,
		}
	}

	monthly, err := e.ledger.SpendInCurrentMonth(ctx, projectID)
	if err != nil {
		e.logger.Error().Err(err).Str("project_id", projectID).Msg("ledger read failed during monthly budget check")
		return gatewaytypes.BudgetDecision{Verdict: gatewaytypes.VerdictReject, ViolatedGate: gatewaytypes.ScopeMonthly, Reason: "ledger unavailable"}
	}
	if monthly+estimatedCost > limits.MonthlyUSD {
		return gatewaytypes.BudgetDecision{
			Verdict: gatewaytypes.VerdictReject, ViolatedGate: gatewaytypes.ScopeMonthly,
			Reason:       fmt.Sprintf("monthly spend %.4f + estimate %.4f exceeds limit %.4f", monthly, estimatedCost, limits.MonthlyUSD),
			CurrentSpend: monthly, Limit: limits.MonthlyUSD,
		}
	}

	warnFraction := e.cfg.WarningFraction
	if float64(queueSize) >= warnFraction*float64(limits.MaxQueue) ||
		estimatedCost >= warnFraction*limits.PerTaskUSD ||
		daily+estimatedCost >= warnFraction*limits.DailyUSD ||
		monthly+estimatedCost >= warnFraction*limits.MonthlyUSD {
		return gatewaytypes.BudgetDecision{
			Verdict: gatewaytypes.VerdictWarn,
			Reason:  "approaching one or more budget gates",
		}
	}

	return gatewaytypes.BudgetDecision{Verdict: gatewaytypes.VerdictAdmit}
}

// WithCriticalSection runs fn while holding the strict per-project-id
// lock, if strict mode is enabled; otherwise fn runs unlocked and the
// design accepts bounded overshoot across racing dispatchers.
func (e *Enforcer) WithCriticalSection(projectID string, fn func()) {
	if e.strict == nil {
		fn()
		return
	}
	unlock := e.strict.Lock(projectID)
	defer unlock()
	fn()
}

// EstimateCost derives a pessimistic pre-call cost estimate from the
// selected tier's prices and a character-based token estimate for the
// input, with expected output capped at the tier's configured max.
func EstimateCost(content string, tier gatewaytypes.TierConfig) float64 {
	inputTokens := ledger.EstimateTokens(content)
	return ledger.Cost(inputTokens, int64(tier.MaxOutputTokens), tier.InputPricePerMtk, tier.OutputPricePerMtk)
}
