package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/internal/messages"
)

// ThawConfig wires a thaw worker.
type ThawConfig struct {
	Queue         string
	Store         JobStore
	Hot           ObjectStore
	Vault         Vault
	ResultsBucket string
	Logger        *slog.Logger
}

// Thaw consumes retrieval-complete notifications from the cold store
// and moves the retrieved bytes back into the hot store.
type Thaw struct {
	queue         string
	store         JobStore
	hot           ObjectStore
	vault         Vault
	resultsBucket string
	logger        *slog.Logger
}

// NewThaw creates a thaw worker.
func NewThaw(cfg ThawConfig) *Thaw {
	return &Thaw{
		queue:         cfg.Queue,
		store:         cfg.Store,
		hot:           cfg.Hot,
		vault:         cfg.Vault,
		resultsBucket: cfg.ResultsBucket,
		logger:        cfg.Logger,
	}
}

func (w *Thaw) Queue() string { return w.queue }

// Handle finishes one restoration. Every step is idempotent under
// redelivery: the upload rewrites identical bytes, the record update
// converges, and the archive delete tolerates an archive that is
// already gone. No step rolls back an earlier one.
func (w *Thaw) Handle(ctx context.Context, body []byte) error {
	var msg messages.Thaw
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed thaw notification: %w", err)
	}

	jobID, err := messages.JobIDFromDescription(msg.Description)
	if err != nil {
		return fmt.Errorf("undecodable thaw notification: %w", err)
	}

	data, err := w.vault.ReadRetrievalOutput(ctx, msg.RetrievalJobID)
	if err != nil {
		return jobs.NewRetryableError(fmt.Errorf("failed to read retrieval output: %w", err))
	}

	// The description is the canonical hot-store result key.
	if err := w.hot.Put(ctx, w.resultsBucket, msg.Description, data); err != nil {
		return jobs.NewRetryableError(fmt.Errorf("failed to upload thawed result: %w", err))
	}

	if err := w.store.MarkRestored(ctx, jobID, msg.Description); err != nil {
		return jobs.NewRetryableError(fmt.Errorf("failed to record restoration: %w", err))
	}

	// The cold copy is redundant now. Losing this delete only
	// leaves an orphan archive behind, so it never fails the
	// restoration itself.
	if err := w.vault.DeleteArchive(ctx, msg.ArchiveID); err != nil {
		w.logger.Error("Failed to delete thawed archive",
			slog.String("job_id", jobID),
			slog.String("archive_id", msg.ArchiveID),
			slog.Any("error", err),
		)
	}

	w.logger.Info("Result restored to hot store",
		slog.String("job_id", jobID),
		slog.String("hot_result_key", msg.Description),
		slog.String("retrieval_job_id", msg.RetrievalJobID),
	)
	return nil
}
