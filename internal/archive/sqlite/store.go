package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"colloquy/internal/simulation"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sim_batches (
	id TEXT PRIMARY KEY,
	generated_at INTEGER NOT NULL,
	run_count INTEGER NOT NULL,
	total_directives INTEGER NOT NULL,
	anomaly_count INTEGER NOT NULL,
	document TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sim_runs (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	persona TEXT NOT NULL,
	outcome TEXT NOT NULL,
	iterations INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at INTEGER NOT NULL,
	FOREIGN KEY(batch_id) REFERENCES sim_batches(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_sim_runs_batch ON sim_runs(batch_id, started_at);
`

var ErrBatchNotFound = errors.New("batch not found")

type BatchSummary struct {
	ID              string
	GeneratedAt     time.Time
	RunCount        int
	TotalDirectives int
	AnomalyCount    int
}

type RunSummary struct {
	ID         string
	Persona    string
	Outcome    string
	Iterations int
	StartedAt  time.Time
	EndedAt    time.Time
}

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// SaveBatch stores the full report document plus one indexed row per run.
func (s *Store) SaveBatch(ctx context.Context, report simulation.BatchReport) error {
	document, err := report.MarshalDocument()
	if err != nil {
		return fmt.Errorf("marshal batch document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx save batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO sim_batches(id, generated_at, run_count, total_directives, anomaly_count, document)
		VALUES(?, ?, ?, ?, ?, ?)`,
		report.BatchID, parseDocTime(report.GeneratedAt).Unix(), report.RunCount,
		report.TotalDirectives, len(report.Anomalies), string(document),
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, run := range report.Runs {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO sim_runs(id, batch_id, persona, outcome, iterations, started_at, ended_at)
			VALUES(?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, report.BatchID, run.Persona, run.Outcome, run.Iterations,
			parseDocTime(run.StartedAt).Unix(), parseDocTime(run.EndedAt).Unix(),
		); err != nil {
			return fmt.Errorf("insert run %s: %w", run.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save batch: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (simulation.BatchReport, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document FROM sim_batches WHERE id = ?`, batchID)
	var document string
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return simulation.BatchReport{}, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
		}
		return simulation.BatchReport{}, fmt.Errorf("get batch: %w", err)
	}
	return simulation.UnmarshalDocument([]byte(document))
}

func (s *Store) ListBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, generated_at, run_count, total_directives, anomaly_count
		FROM sim_batches ORDER BY generated_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	result := make([]BatchSummary, 0, limit)
	for rows.Next() {
		var item BatchSummary
		var generated int64
		if err := rows.Scan(&item.ID, &generated, &item.RunCount, &item.TotalDirectives, &item.AnomalyCount); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		item.GeneratedAt = unixToTime(generated)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return result, nil
}

func (s *Store) ListRuns(ctx context.Context, batchID string) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, persona, outcome, iterations, started_at, ended_at
		FROM sim_runs WHERE batch_id = ? ORDER BY started_at ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []RunSummary
	for rows.Next() {
		var item RunSummary
		var started, ended int64
		if err := rows.Scan(&item.ID, &item.Persona, &item.Outcome, &item.Iterations, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		item.StartedAt = unixToTime(started)
		item.EndedAt = unixToTime(ended)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func parseDocTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
