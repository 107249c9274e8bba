package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// MemoryLedger is an in-process Ledger for tests and for deployments that
// accept losing history across restarts. It honors the same record/
// succeed-or-surface and windowed-aggregation contract as SQLLedger.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []gatewaytypes.SpendRecord
}

// NewMemoryLedger builds an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (m *MemoryLedger) Record(ctx context.Context, rec gatewaytypes.SpendRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryLedger) SpendSince(ctx context.Context, projectID string, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum float64
	for _, r := range m.records {
		if r.Timestamp.Before(since) {
			continue
		}
		if projectID != "" && r.ProjectID != projectID {
			continue
		}
		sum += r.CostUSD
	}
	return roundMoney(sum), nil
}

func (m *MemoryLedger) SpendInCurrentDay(ctx context.Context, projectID string) (float64, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return m.SpendSince(ctx, projectID, start)
}

func (m *MemoryLedger) SpendInCurrentMonth(ctx context.Context, projectID string) (float64, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return m.SpendSince(ctx, projectID, start)
}

// Len reports the number of appended records, mainly for test assertions.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryLedger) Close() error { return nil }
