package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Store persists job records in the jobs table.
//
// Only the PENDING to RUNNING transition is conditional; every other
// mutation has a single writer and is written as an idempotent
// overwrite so redelivered messages converge on the same end state.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a job record store on the given database.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

const recordColumns = `job_id, user_id, input_file_name, hot_input_key, submit_time,
	job_status, complete_time, hot_result_key, hot_log_key, storage_status, archive_id`

// Create inserts a new PENDING record.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO jobs (job_id, user_id, input_file_name, hot_input_key, submit_time, job_status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.JobID, rec.UserID, rec.InputFileName, rec.HotInputKey, rec.SubmitTime, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

// Get returns the record for the given job id.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM jobs WHERE job_id = $1`

	var rec Record
	if err := s.db.GetContext(ctx, &rec, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}
	return &rec, nil
}

// TryTransition performs a compare-and-swap on job_status. It returns
// false when the record is not currently in the expected state, which
// callers treat as a benign duplicate-delivery signal.
func (s *Store) TryTransition(ctx context.Context, jobID, from, to string) (bool, error) {
	query := `UPDATE jobs SET job_status = $1 WHERE job_id = $2 AND job_status = $3`

	result, err := s.db.ExecContext(ctx, query, to, jobID, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition job status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		s.logger.Warn("Job status transition condition failed",
			slog.String("job_id", jobID),
			slog.String("from", from),
			slog.String("to", to),
		)
		return false, nil
	}
	return true, nil
}

// MarkCompleted records the completion transition. The completion
// worker is the sole writer of these fields, so the update is
// unconditioned.
func (s *Store) MarkCompleted(ctx context.Context, jobID, resultKey, logKey string, completeTime int64) error {
	query := `
		UPDATE jobs
		SET job_status = 'COMPLETED',
		    complete_time = $1,
		    hot_result_key = $2,
		    hot_log_key = $3
		WHERE job_id = $4
	`
	if _, err := s.db.ExecContext(ctx, query, completeTime, resultKey, logKey, jobID); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// MarkArchived sets the archive id and clears the hot result key in a
// single statement, preserving the archived-state invariant.
func (s *Store) MarkArchived(ctx context.Context, jobID, archiveID string) error {
	query := `UPDATE jobs SET archive_id = $1, hot_result_key = NULL WHERE job_id = $2`

	if _, err := s.db.ExecContext(ctx, query, archiveID, jobID); err != nil {
		return fmt.Errorf("failed to mark job archived: %w", err)
	}
	return nil
}

// MarkRestored records a thawed result: storage status RESTORED, hot
// result key back in place, archive id cleared.
func (s *Store) MarkRestored(ctx context.Context, jobID, resultKey string) error {
	query := `
		UPDATE jobs
		SET storage_status = 'RESTORED',
		    hot_result_key = $1,
		    archive_id = NULL
		WHERE job_id = $2
	`
	if _, err := s.db.ExecContext(ctx, query, resultKey, jobID); err != nil {
		return fmt.Errorf("failed to mark job restored: %w", err)
	}
	return nil
}

// ListArchivedByUser returns the user's records whose results are in
// cold storage and not yet restored.
func (s *Store) ListArchivedByUser(ctx context.Context, userID string) ([]Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM jobs
		WHERE user_id = $1
		  AND archive_id IS NOT NULL
		  AND hot_result_key IS NULL
	`
	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list archived jobs: %w", err)
	}
	return recs, nil
}

// ListByUser returns every record owned by the user, most recent
// submissions first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM jobs
		WHERE user_id = $1
		ORDER BY submit_time DESC
	`
	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return recs, nil
}
