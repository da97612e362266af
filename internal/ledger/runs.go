package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is one dispatch invocation.
type Run struct {
	ID           string    `json:"id"`
	Backend      string    `json:"backend"`
	ManifestPath string    `json:"manifest_path"`
	PanelPath    string    `json:"panel_path,omitempty"`
	Samples      int       `json:"samples"`
	Jobs         int       `json:"jobs"`
	Errors       int       `json:"errors"`
	Skipped      int       `json:"skipped"`
	DryRun       bool      `json:"dry_run"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}

// Finished reports whether dispatch completed for the run.
func (r Run) Finished() bool { return !r.FinishedAt.IsZero() }

// RunTotals are the counters stored when dispatch finishes.
type RunTotals struct {
	Jobs    int
	Errors  int
	Skipped int
}

const runColumns = "id, backend, manifest_path, panel_path, sample_count, job_count, error_count, skipped_count, dry_run, started_at, finished_at"

// BeginRun inserts a new run.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is empty")
	}
	err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, backend, manifest_path, panel_path, sample_count, dry_run, started_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Backend,
		run.ManifestPath,
		nullableString(run.PanelPath),
		run.Samples,
		boolToInt(run.DryRun),
		formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, id string, totals RunTotals) error {
	err := s.execWithRetry(ctx,
		`UPDATE runs SET job_count = ?, error_count = ?, skipped_count = ?, finished_at = ? WHERE id = ?`,
		totals.Jobs, totals.Errors, totals.Skipped, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// LatestRun returns the most recently started run that dispatched jobs.
// Dry runs are listed by Runs but never become the latest run.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+runColumns+" FROM runs WHERE dry_run = 0 ORDER BY started_at DESC, rowid DESC LIMIT 1")
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ledger has no dispatched runs", ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// Runs lists runs, newest first. A limit <= 0 returns every run.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run         Run
		panelPath   sql.NullString
		dryRun      int
		startedRaw  sql.NullString
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Backend,
		&run.ManifestPath,
		&panelPath,
		&run.Samples,
		&run.Jobs,
		&run.Errors,
		&run.Skipped,
		&dryRun,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	run.PanelPath = panelPath.String
	run.DryRun = dryRun != 0
	run.StartedAt = parseTime(startedRaw)
	run.FinishedAt = parseTime(finishedRaw)
	return &run, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
