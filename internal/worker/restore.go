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
	"github.com/annolab/annopipe/internal/vault"
)

// RestoreConfig wires a restore worker.
type RestoreConfig struct {
	Queue     string
	Store     JobStore
	Vault     Vault
	Directory Directory
	KeyPrefix string
	Logger    *slog.Logger
}

// Restore reacts to account upgrades: it finds the account's archived
// jobs and kicks off a cold-store retrieval for each. It mutates no
// job records; the thaw worker picks up once retrievals complete.
type Restore struct {
	queue     string
	store     JobStore
	vault     Vault
	directory Directory
	keyPrefix string
	logger    *slog.Logger
}

// NewRestore creates a restore worker.
func NewRestore(cfg RestoreConfig) *Restore {
	return &Restore{
		queue:     cfg.Queue,
		store:     cfg.Store,
		vault:     cfg.Vault,
		directory: cfg.Directory,
		keyPrefix: cfg.KeyPrefix,
		logger:    cfg.Logger,
	}
}

func (w *Restore) Queue() string { return w.queue }

// Handle issues retrieval requests for every archived job of the
// account. Expedited tier first; standard tier when expedited
// capacity is exhausted, which is an expected fallback rather than a
// failure. The message is acknowledged once all retrievals are
// issued, not once they complete.
func (w *Restore) Handle(ctx context.Context, body []byte) error {
	var msg messages.Restore
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed restore message: %w", err)
	}
	if msg.UserID == "" {
		return fmt.Errorf("restore message missing user id")
	}

	profile, err := w.directory.GetProfile(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return fmt.Errorf("no account for restore request: %w", err)
		}
		return jobs.NewRetryableError(err)
	}
	if !profile.Premium() {
		w.logger.Info("Restore requested for non-premium account, skipping",
			slog.String("user_id", msg.UserID),
		)
		return nil
	}

	recs, err := w.store.ListArchivedByUser(ctx, msg.UserID)
	if err != nil {
		return jobs.NewRetryableError(err)
	}

	for _, rec := range recs {
		if err := w.initiateRetrieval(ctx, &rec, msg.UserID); err != nil {
			return jobs.NewRetryableError(err)
		}
	}

	w.logger.Info("Restore initiated for account",
		slog.String("user_id", msg.UserID),
		slog.Int("archived_jobs", len(recs)),
	)
	return nil
}

func (w *Restore) initiateRetrieval(ctx context.Context, rec *jobs.Record, userID string) error {
	base := messages.BaseName(rec.InputFileName)
	description := messages.ResultKey(w.keyPrefix, userID, rec.JobID, base)

	tier := vault.TierExpedited
	retrievalID, err := w.vault.InitiateRetrieval(ctx, rec.ArchiveID.String, description, tier)
	if errors.Is(err, vault.ErrInsufficientCapacity) {
		tier = vault.TierStandard
		retrievalID, err = w.vault.InitiateRetrieval(ctx, rec.ArchiveID.String, description, tier)
	}
	if err != nil {
		return fmt.Errorf("failed to initiate retrieval for job %s: %w", rec.JobID, err)
	}

	w.logger.Info("Retrieval initiated",
		slog.String("job_id", rec.JobID),
		slog.String("archive_id", rec.ArchiveID.String),
		slog.String("retrieval_job_id", retrievalID),
		slog.String("tier", string(tier)),
	)
	return nil
}
