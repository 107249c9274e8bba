package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// SQLLedger is the durable Cost Ledger backing store: a transactional
// SQL table keyed by (date, project-id), append-only, queried with
// ordered-by-timestamp windowed sums. modernc.org/sqlite is a pure-Go
// database/sql driver, chosen so the gateway ships as a single static
// binary with no CGo toolchain dependency at build time.
type SQLLedger struct {
	db     *sql.DB
	audit  *AuditLog
	logger zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS spend_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at    TIMESTAMP NOT NULL,
	session_key   TEXT NOT NULL,
	project_id    TEXT NOT NULL,
	tier          TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spend_project_time ON spend_records(project_id, created_at);
`

// NewSQLLedger opens (creating if absent) the ledger database at dsn and
// ensures its schema exists.
func NewSQLLedger(dsn string, logger zerolog.Logger) (*SQLLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize writers, matches single-writer WAL usage

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	return &SQLLedger{
		db:     db,
		audit:  NewAuditLog(noopAuditWriter{}, 1000),
		logger: logger.With().Str("component", "ledger").Logger(),
	}, nil
}

// Record appends a spend record. The SQL insert is synchronous and its
// error is always surfaced — the ledger must never silently lose a
// record. A best-effort copy is additionally queued to the async audit
// log for write-ahead inspection; audit-log delivery is not reported: a
// full queue or a failed batch write neither fails the call nor is logged.
func (l *SQLLedger) Record(ctx context.Context, rec gatewaytypes.SpendRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO spend_records (created_at, session_key, project_id, tier, input_tokens, output_tokens, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, string(rec.SessionKey), rec.ProjectID, string(rec.Tier),
		rec.InputTokens, rec.OutputTokens, rec.CostUSD,
	)
	if err != nil {
		l.logger.Error().Err(err).Str("project_id", rec.ProjectID).Msg("ledger record write failed")
		return fmt.Errorf("record spend: %w", err)
	}

	l.audit.Log(rec)
	return nil
}

// SpendSince sums cost for a project (or all projects when empty) since a
// given instant.
func (l *SQLLedger) SpendSince(ctx context.Context, projectID string, since time.Time) (float64, error) {
	var sum sql.NullFloat64
	var err error
	if projectID == "" {
		err = l.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(cost_usd), 0) FROM spend_records WHERE created_at >= ?`, since,
		).Scan(&sum)
	} else {
		err = l.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(cost_usd), 0) FROM spend_records WHERE created_at >= ? AND project_id = ?`,
			since, projectID,
		).Scan(&sum)
	}
	if err != nil {
		return 0, fmt.Errorf("spend since: %w", err)
	}
	return sum.Float64, nil
}

// SpendInCurrentDay sums cost within the UTC day of now.
func (l *SQLLedger) SpendInCurrentDay(ctx context.Context, projectID string) (float64, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return l.SpendSince(ctx, projectID, start)
}

// SpendInCurrentMonth sums cost within the UTC month of now.
func (l *SQLLedger) SpendInCurrentMonth(ctx context.Context, projectID string) (float64, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return l.SpendSince(ctx, projectID, start)
}

// Close stops the audit log and closes the database handle.
func (l *SQLLedger) Close() error {
	l.audit.Close()
	return l.db.Close()
}
