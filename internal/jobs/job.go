// Package jobs holds the authoritative job record and its store.
package jobs

import (
	"database/sql"
	"errors"
)

// Job lifecycle states. The ordering is total and a record's status
// never moves backwards.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
)

// StorageRestored marks a record whose archived result has been
// thawed back into the hot store.
const StorageRestored = "RESTORED"

var (
	// ErrJobNotFound is returned when a job record does not exist.
	ErrJobNotFound = errors.New("job not found")
)

// Record is one row of the jobs table, keyed by JobID.
//
// A record counts as archived when ArchiveID is set and HotResultKey
// is absent. The two fields are always written together in a single
// statement so no reader can observe both present or both absent
// after completion.
type Record struct {
	JobID         string         `db:"job_id"`
	UserID        string         `db:"user_id"`
	InputFileName string         `db:"input_file_name"`
	HotInputKey   string         `db:"hot_input_key"`
	SubmitTime    int64          `db:"submit_time"`
	JobStatus     string         `db:"job_status"`
	CompleteTime  sql.NullInt64  `db:"complete_time"`
	HotResultKey  sql.NullString `db:"hot_result_key"`
	HotLogKey     sql.NullString `db:"hot_log_key"`
	StorageStatus sql.NullString `db:"storage_status"`
	ArchiveID     sql.NullString `db:"archive_id"`
}

// Archived reports whether the record's result currently lives in
// cold storage.
func (r *Record) Archived() bool {
	return r.ArchiveID.Valid && r.ArchiveID.String != "" && !r.HotResultKey.Valid
}

// RetryableError wraps transient failures that should leave the
// triggering message unacknowledged for redelivery.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError marks err as transient.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked transient.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
