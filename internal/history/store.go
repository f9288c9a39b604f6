package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("run not found")

// Store persists run history in SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database under stateDir and applies migrations
func Open(ctx context.Context, stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(stateDir, "history.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps WAL and busy_timeout applied to every write
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=3000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	versions := []string{"0001_init"}
	for _, version := range versions {
		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		script, err := migrations.ReadFile("migrations/" + version + ".sql")
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`,
			version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}
	return nil
}

// InsertRun records a run that has just started
func (s *Store) InsertRun(ctx context.Context, run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, task_kind, status, seconds_needed, seconds_done, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, run.Kind, run.Status, run.SecondsNeeded, run.SecondsDone,
		nullableString(run.Error), run.StartedAt.UTC().Format(time.RFC3339Nano), nullableTime(run.EndedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the terminal state of a run
func (s *Store) FinishRun(ctx context.Context, id string, status Status, secondsDone int, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, seconds_done = ?, error = ?, ended_at = ?
		WHERE id = ?
	`, status, secondsDone, nullableString(errMsg), s.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns one run
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, task_kind, status, seconds_needed, seconds_done, error, started_at, ended_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, task_kind, status, seconds_needed, seconds_done, error, started_at, ended_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Stats aggregates all recorded runs
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByKind: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, task_kind, COUNT(1), COALESCE(SUM(seconds_done), 0)
		FROM runs
		GROUP BY status, task_kind
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status  string
			kind    string
			count   int
			seconds int
		)
		if err := rows.Scan(&status, &kind, &count, &seconds); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}

		stats.Total += count
		switch Status(status) {
		case StatusCompleted:
			stats.Completed += count
			stats.ByKind[kind] += count
			stats.TotalSeconds += seconds
		case StatusFailed:
			stats.Failed += count
		case StatusAborted:
			stats.Aborted += count
		case StatusRunning:
			stats.Running += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*Run, error) {
	var (
		run       Run
		status    string
		errMsg    sql.NullString
		startedAt string
		endedAt   sql.NullString
	)
	if err := scanner.Scan(&run.ID, &run.TaskID, &run.Kind, &status, &run.SecondsNeeded, &run.SecondsDone,
		&errMsg, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Status = Status(status)
	run.Error = errMsg.String

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid stored time %q: %w", startedAt, err)
	}
	run.StartedAt = t

	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid stored time %q: %w", endedAt.String, err)
		}
		run.EndedAt = &t
	}
	return &run, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
