package jobs

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annolab/annopipe/shared/logger"
)

const testSchema = `
CREATE TABLE jobs (
	job_id          TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	input_file_name TEXT NOT NULL,
	hot_input_key   TEXT NOT NULL,
	submit_time     INTEGER NOT NULL,
	job_status      TEXT NOT NULL,
	complete_time   INTEGER,
	hot_result_key  TEXT,
	hot_log_key     TEXT,
	storage_status  TEXT,
	archive_id      TEXT
);
`

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return NewStore(db, logger.NewDefault())
}

func createTestJob(t *testing.T, s *Store, jobID, userID string) {
	t.Helper()
	err := s.Create(context.Background(), &Record{
		JobID:         jobID,
		UserID:        userID,
		InputFileName: "sample.vcf",
		HotInputKey:   "annopipe/" + userID + "/" + jobID + "~sample.vcf",
		SubmitTime:    1700000000,
	})
	require.NoError(t, err)
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestJob(t, s, "job-1", "user-1")

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", rec.JobID)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, StatusPending, rec.JobStatus)
	assert.False(t, rec.CompleteTime.Valid)
	assert.False(t, rec.Archived())

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStore_TryTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestJob(t, s, "job-1", "user-1")

	ok, err := s.TryTransition(ctx, "job-1", StatusPending, StatusRunning)
	require.NoError(t, err)
	assert.True(t, ok)

	// A duplicate delivery finds the job already RUNNING and the
	// condition fails without error.
	ok, err = s.TryTransition(ctx, "job-1", StatusPending, StatusRunning)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.JobStatus)
}

func TestStore_MarkCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestJob(t, s, "job-1", "user-1")
	_, err := s.TryTransition(ctx, "job-1", StatusPending, StatusRunning)
	require.NoError(t, err)

	err = s.MarkCompleted(ctx, "job-1", "results/job-1~sample.annot.vcf", "results/job-1~sample.vcf.count.log", 1700000100)
	require.NoError(t, err)

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.JobStatus)
	assert.Equal(t, int64(1700000100), rec.CompleteTime.Int64)
	assert.Equal(t, "results/job-1~sample.annot.vcf", rec.HotResultKey.String)
	assert.Equal(t, "results/job-1~sample.vcf.count.log", rec.HotLogKey.String)
}

func TestStore_ArchiveAndRestore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestJob(t, s, "job-1", "user-1")
	require.NoError(t, s.MarkCompleted(ctx, "job-1", "results/key", "results/log", 1700000100))

	require.NoError(t, s.MarkArchived(ctx, "job-1", "archive-1"))

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, rec.Archived())
	assert.Equal(t, "archive-1", rec.ArchiveID.String)
	assert.False(t, rec.HotResultKey.Valid)

	// Marking archived twice with the same id converges.
	require.NoError(t, s.MarkArchived(ctx, "job-1", "archive-1"))
	rec, err = s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, rec.Archived())

	require.NoError(t, s.MarkRestored(ctx, "job-1", "results/key"))
	rec, err = s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, rec.Archived())
	assert.Equal(t, StorageRestored, rec.StorageStatus.String)
	assert.Equal(t, "results/key", rec.HotResultKey.String)
	assert.False(t, rec.ArchiveID.Valid)
}

func TestStore_ListArchivedByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestJob(t, s, "job-1", "user-1")
	createTestJob(t, s, "job-2", "user-1")
	createTestJob(t, s, "job-3", "user-2")

	require.NoError(t, s.MarkCompleted(ctx, "job-1", "k1", "l1", 1))
	require.NoError(t, s.MarkCompleted(ctx, "job-2", "k2", "l2", 2))
	require.NoError(t, s.MarkCompleted(ctx, "job-3", "k3", "l3", 3))

	require.NoError(t, s.MarkArchived(ctx, "job-1", "archive-1"))
	require.NoError(t, s.MarkArchived(ctx, "job-3", "archive-3"))

	recs, err := s.ListArchivedByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "job-1", recs[0].JobID)

	// Restored jobs drop out of the archived set.
	require.NoError(t, s.MarkRestored(ctx, "job-1", "k1"))
	recs, err = s.ListArchivedByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
