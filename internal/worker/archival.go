package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/annolab/annopipe/internal/accounts"
	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/internal/messages"
)

// ArchivalConfig wires an archival worker.
type ArchivalConfig struct {
	Queue         string
	Store         JobStore
	Hot           ObjectStore
	Vault         Vault
	Directory     Directory
	ResultsBucket string
	Logger        *slog.Logger
}

// Archival migrates free-tier results from the hot store to the cold
// vault once their hot-access window has expired.
type Archival struct {
	queue         string
	store         JobStore
	hot           ObjectStore
	vault         Vault
	directory     Directory
	resultsBucket string
	logger        *slog.Logger
}

// NewArchival creates an archival worker.
func NewArchival(cfg ArchivalConfig) *Archival {
	return &Archival{
		queue:         cfg.Queue,
		store:         cfg.Store,
		hot:           cfg.Hot,
		vault:         cfg.Vault,
		directory:     cfg.Directory,
		resultsBucket: cfg.ResultsBucket,
		logger:        cfg.Logger,
	}
}

func (w *Archival) Queue() string { return w.queue }

// Handle archives one result. The account tier is re-checked here:
// the enqueue-time check is advisory, this one is authoritative. A
// record that already carries an archive id is a redelivery after the
// cold-store write landed, and only the record update and hot delete
// are repeated.
func (w *Archival) Handle(ctx context.Context, body []byte) error {
	var msg messages.Archive
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed archival message: %w", err)
	}
	if msg.JobID == "" || msg.UserID == "" || msg.HotResultKey == "" {
		return fmt.Errorf("archival message missing required fields: %+v", msg)
	}

	profile, err := w.directory.GetProfile(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return fmt.Errorf("no account for archival request: %w", err)
		}
		return jobs.NewRetryableError(err)
	}
	if profile.Premium() {
		w.logger.Info("Account is premium now, dropping archival request",
			slog.String("job_id", msg.JobID),
			slog.String("user_id", msg.UserID),
		)
		return nil
	}

	rec, err := w.store.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return fmt.Errorf("no record for archival request %s: %w", msg.JobID, err)
		}
		return jobs.NewRetryableError(err)
	}

	if rec.ArchiveID.Valid && rec.ArchiveID.String != "" {
		// Redelivery after the cold write landed: repeat only the
		// record update and the hot delete, never the upload.
		if err := w.store.MarkArchived(ctx, msg.JobID, rec.ArchiveID.String); err != nil {
			return jobs.NewRetryableError(fmt.Errorf("failed to record archive id: %w", err))
		}
		return w.finishArchival(ctx, msg.JobID, rec.ArchiveID.String, msg.HotResultKey)
	}

	data, err := w.hot.Get(ctx, w.resultsBucket, msg.HotResultKey)
	if err != nil {
		return jobs.NewRetryableError(fmt.Errorf("failed to fetch result from hot store: %w", err))
	}

	archiveID, err := w.vault.Upload(ctx, data)
	if err != nil {
		return jobs.NewRetryableError(fmt.Errorf("failed to write archive: %w", err))
	}

	if err := w.store.MarkArchived(ctx, msg.JobID, archiveID); err != nil {
		// The cold copy exists but the record does not know about
		// it. Replaying the whole message would write a second
		// copy, so the message is consumed and the orphan left for
		// reconciliation.
		w.logger.Error("Record update failed after cold-store write",
			slog.String("job_id", msg.JobID),
			slog.String("archive_id", archiveID),
			slog.String("hot_result_key", msg.HotResultKey),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to record archive id %s for job %s: %w", archiveID, msg.JobID, err)
	}

	return w.finishArchival(ctx, msg.JobID, archiveID, msg.HotResultKey)
}

// finishArchival deletes the hot copy. Safe to repeat: deleting an
// absent object is a no-op.
func (w *Archival) finishArchival(ctx context.Context, jobID, archiveID, hotResultKey string) error {
	if err := w.hot.Delete(ctx, w.resultsBucket, hotResultKey); err != nil {
		return jobs.NewRetryableError(fmt.Errorf("failed to delete hot copy: %w", err))
	}

	w.logger.Info("Result archived",
		slog.String("job_id", jobID),
		slog.String("archive_id", archiveID),
	)
	return nil
}
