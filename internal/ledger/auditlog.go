package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// AuditWriter persists a batch of spend records to a write-ahead audit
// trail, independent of the ledger's primary SQL table.
type AuditWriter interface {
	WriteBatch(ctx context.Context, records []gatewaytypes.SpendRecord) error
}

// AuditLog batches spend records and flushes them asynchronously on a
// buffered channel plus ticker, mirroring the donor metering package's
// AsyncLogger/LogWriter batched-flush pattern. Unlike the donor, the
// primary record of truth is the synchronous SQL insert in SQLLedger —
// this log exists purely as a secondary, best-effort audit trail, so a
// full buffer here drops the incoming record rather than blocking the
// caller or losing the authoritative write.
type AuditLog struct {
	ch     chan gatewaytypes.SpendRecord
	wg     sync.WaitGroup
	writer AuditWriter
}

// NewAuditLog starts the background drain goroutine.
func NewAuditLog(writer AuditWriter, bufferSize int) *AuditLog {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	al := &AuditLog{
		ch:     make(chan gatewaytypes.SpendRecord, bufferSize),
		writer: writer,
	}
	al.wg.Add(1)
	go al.drain()
	return al
}

// Log queues a record for asynchronous audit persistence.
func (al *AuditLog) Log(rec gatewaytypes.SpendRecord) {
	select {
	case al.ch <- rec:
	default:
		// Buffer full: the SQL insert already succeeded, so this is a
		// secondary trail only — discard this record rather than
		// blocking the dispatch path.
	}
}

// Close flushes any queued records and stops the drain goroutine.
func (al *AuditLog) Close() {
	close(al.ch)
	al.wg.Wait()
}

func (al *AuditLog) drain() {
	defer al.wg.Done()

	batch := make([]gatewaytypes.SpendRecord, 0, 100)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = al.writer.WriteBatch(ctx, batch)
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-al.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// noopAuditWriter is the default audit writer for deployments that don't
// wire a secondary sink (e.g. S3, ClickHouse); the SQL table remains the
// source of truth regardless.
type noopAuditWriter struct{}

func (noopAuditWriter) WriteBatch(ctx context.Context, records []gatewaytypes.SpendRecord) error {
	return nil
}
