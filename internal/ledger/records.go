package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"imcflow/internal/backend"
	"imcflow/internal/jobs"
	"imcflow/internal/pipeline"
)

// ErrorRecord is a dispatch-time failure for one sample (and stage, when
// known).
type ErrorRecord struct {
	RunID      string    `json:"run_id"`
	Sample     string    `json:"sample"`
	Stage      string    `json:"stage,omitempty"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	RecordedAt time.Time `json:"recorded_at"`
}

const jobColumns = "run_id, sample, stage, ordinal, command, backend, receipt_id, cpus, memory_mb, wall_time_seconds, partition, log_path, expected_output, submitted_at"

// RecordJob appends an immutable job record.
func (s *Store) RecordJob(ctx context.Context, job jobs.Job) error {
	res := job.Resources()
	err := s.execWithRetry(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.RunID(),
		job.Sample(),
		job.Stage(),
		job.Ordinal(),
		job.Command(),
		string(job.Backend()),
		nullableString(job.Receipt().ID),
		res.CPUs,
		res.MemoryMB,
		int64(res.WallTime/time.Second),
		nullableString(res.Partition),
		job.LogPath(),
		job.ExpectedOutput(),
		formatTime(job.SubmittedAt()),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.Key(), err)
	}
	return nil
}

// Jobs returns a run's job records in submission order.
func (s *Store) Jobs(ctx context.Context, runID string) ([]jobs.Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+jobColumns+" FROM jobs WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		var (
			spec         jobs.Spec
			backendKind  string
			receiptID    sql.NullString
			wallSeconds  int64
			partition    sql.NullString
			submittedRaw sql.NullString
		)
		if err := rows.Scan(
			&spec.RunID,
			&spec.Sample,
			&spec.Stage,
			&spec.Ordinal,
			&spec.Command,
			&backendKind,
			&receiptID,
			&spec.Resources.CPUs,
			&spec.Resources.MemoryMB,
			&wallSeconds,
			&partition,
			&spec.LogPath,
			&spec.ExpectedOutput,
			&submittedRaw,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		spec.Backend = backend.Kind(backendKind)
		if receiptID.Valid {
			spec.Receipt = backend.Receipt{Kind: spec.Backend, ID: receiptID.String}
		}
		spec.Resources = pipeline.Resources{
			CPUs:      spec.Resources.CPUs,
			MemoryMB:  spec.Resources.MemoryMB,
			WallTime:  time.Duration(wallSeconds) * time.Second,
			Partition: partition.String,
		}
		spec.SubmittedAt = parseTime(submittedRaw)
		out = append(out, jobs.New(spec))
	}
	return out, rows.Err()
}

// RecordError appends a dispatch-time failure.
func (s *Store) RecordError(ctx context.Context, rec ErrorRecord) error {
	err := s.execWithRetry(ctx,
		`INSERT INTO dispatch_errors (run_id, sample, stage, kind, message, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Sample,
		nullableString(rec.Stage),
		rec.Kind,
		rec.Message,
		formatTime(rec.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("record dispatch error for %s: %w", rec.Sample, err)
	}
	return nil
}

// Errors returns a run's dispatch-time failures in recording order.
func (s *Store) Errors(ctx context.Context, runID string) ([]ErrorRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT run_id, sample, stage, kind, message, recorded_at FROM dispatch_errors WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("list dispatch errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorRecord
	for rows.Next() {
		var (
			rec      ErrorRecord
			stage    sql.NullString
			recorded sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Sample, &stage, &rec.Kind, &rec.Message, &recorded); err != nil {
			return nil, fmt.Errorf("scan dispatch error: %w", err)
		}
		rec.Stage = stage.String
		rec.RecordedAt = parseTime(recorded)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SkipRecord is a stage left out of a run because its expected output was
// already present.
type SkipRecord struct {
	RunID          string    `json:"run_id"`
	Sample         string    `json:"sample"`
	Stage          string    `json:"stage"`
	Ordinal        int       `json:"ordinal"`
	ExpectedOutput string    `json:"expected_output"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// RecordSkip appends a skipped stage.
func (s *Store) RecordSkip(ctx context.Context, rec SkipRecord) error {
	err := s.execWithRetry(ctx,
		`INSERT INTO skips (run_id, sample, stage, ordinal, expected_output, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Sample,
		rec.Stage,
		rec.Ordinal,
		rec.ExpectedOutput,
		formatTime(rec.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("record skip %s/%s: %w", rec.Sample, rec.Stage, err)
	}
	return nil
}

// Skips returns a run's skipped stages in recording order.
func (s *Store) Skips(ctx context.Context, runID string) ([]SkipRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT run_id, sample, stage, ordinal, expected_output, recorded_at FROM skips WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("list skips: %w", err)
	}
	defer rows.Close()

	var out []SkipRecord
	for rows.Next() {
		var (
			rec      SkipRecord
			recorded sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Sample, &rec.Stage, &rec.Ordinal, &rec.ExpectedOutput, &recorded); err != nil {
			return nil, fmt.Errorf("scan skip: %w", err)
		}
		rec.RecordedAt = parseTime(recorded)
		out = append(out, rec)
	}
	return out, rows.Err()
}
