// Package ledger implements the Cost Ledger component: an append-only
// store of SpendRecords with fast windowed aggregation.
package ledger

import (
	"context"
	"math"
	"time"

	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// Reader is the read side of the ledger, the shape the Budget Enforcer
// depends on.
type Reader interface {
	SpendSince(ctx context.Context, projectID string, since time.Time) (float64, error)
	SpendInCurrentDay(ctx context.Context, projectID string) (float64, error)
	SpendInCurrentMonth(ctx context.Context, projectID string) (float64, error)
}

// Ledger is the full Cost Ledger contract.
type Ledger interface {
	Reader
	// Record atomically appends a spend record. It must succeed-or-surface:
	// callers must never treat a failed Record as a no-op.
	Record(ctx context.Context, rec gatewaytypes.SpendRecord) error
	Close() error
}

// roundMoney applies bankers' rounding (round-half-to-even) to two-decimal
// USD precision at the record boundary, matching the donor cost engine's
// math.RoundToEven style generalized to two decimals. Half-to-even avoids
// the systematic upward bias round-half-up accumulates over many records.
func roundMoney(v float64) float64 {
	const scale = 100.0
	return math.RoundToEven(v*scale) / scale
}

// Cost computes cost-usd = input-tokens × input-price + output-tokens ×
// output-price, both converted from per-megatoken rates.
func Cost(inputTokens, outputTokens int64, inputPricePerMtk, outputPricePerMtk float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPricePerMtk
	outputCost := float64(outputTokens) / 1_000_000 * outputPricePerMtk
	return roundMoney(inputCost + outputCost)
}

// EstimateTokens implements the budget enforcer's pessimistic ⌈chars/4⌉
// input estimate, matching the donor TokenCounter's chars-per-token ratio.
func EstimateTokens(text string) int64 {
	if len(text) == 0 {
		return 0
	}
	n := int64(len(text))
	return (n + 3) / 4
}
