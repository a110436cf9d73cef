package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/annolab/annopipe/internal/messages"
	"github.com/annolab/annopipe/shared/rabbitmq"
)

// CompletionConfig wires a completion worker.
type CompletionConfig struct {
	Store           JobStore
	Hot             ObjectStore
	Directory       Directory
	Notifier        Notifier
	Sender          Sender
	ResultsBucket   string
	ArchivalQueue   string
	HotAccessWindow time.Duration
	Logger          *slog.Logger
}

// Completion finalizes a finished annotation run. Unlike the other
// workers it is not queue-driven: the runner invokes it directly once
// the computation has produced its output files.
type Completion struct {
	store           JobStore
	hot             ObjectStore
	directory       Directory
	notifier        Notifier
	sender          Sender
	resultsBucket   string
	archivalQueue   string
	hotAccessWindow time.Duration
	logger          *slog.Logger
}

// NewCompletion creates a completion worker.
func NewCompletion(cfg CompletionConfig) *Completion {
	return &Completion{
		store:           cfg.Store,
		hot:             cfg.Hot,
		directory:       cfg.Directory,
		notifier:        cfg.Notifier,
		sender:          cfg.Sender,
		resultsBucket:   cfg.ResultsBucket,
		archivalQueue:   cfg.ArchivalQueue,
		hotAccessWindow: cfg.HotAccessWindow,
		logger:          cfg.Logger,
	}
}

// FinishRequest mirrors the runner's argument contract: the job id,
// the per-user key prefix (with trailing slash), the original input
// file name and the job's local working directory.
type FinishRequest struct {
	JobID     string
	KeyPrefix string
	FileName  string
	WorkDir   string
}

// Finish uploads the result artifacts, records completion, publishes
// the user notification and, for free-tier accounts, schedules the
// delayed archival of the result. The completion update is
// unconditioned: this worker is the transition's only writer and the
// output files already exist.
func (c *Completion) Finish(ctx context.Context, req FinishRequest) error {
	base := messages.BaseName(req.FileName)
	resultKey := fmt.Sprintf("%s%s~%s.annot.vcf", req.KeyPrefix, req.JobID, base)
	logKey := fmt.Sprintf("%s%s~%s.vcf.count.log", req.KeyPrefix, req.JobID, base)

	resultPath := filepath.Join(req.WorkDir, base+".annot.vcf")
	logPath := filepath.Join(req.WorkDir, base+".vcf.count.log")

	if err := c.hot.Upload(ctx, c.resultsBucket, resultKey, resultPath); err != nil {
		return fmt.Errorf("failed to upload result file: %w", err)
	}
	if err := c.hot.Upload(ctx, c.resultsBucket, logKey, logPath); err != nil {
		return fmt.Errorf("failed to upload log file: %w", err)
	}

	if err := c.store.MarkCompleted(ctx, req.JobID, resultKey, logKey, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}

	c.logger.Info("Job completed",
		slog.String("job_id", req.JobID),
		slog.String("hot_result_key", resultKey),
	)

	rec, err := c.store.Get(ctx, req.JobID)
	if err != nil {
		return fmt.Errorf("failed to reload completed job: %w", err)
	}

	profile, err := c.directory.GetProfile(ctx, rec.UserID)
	if err != nil {
		// The job is durably COMPLETED; without a profile there is
		// no notification target and no tier to archive against.
		c.releaseWorkingArea(req.WorkDir, req.JobID)
		return fmt.Errorf("failed to resolve account profile: %w", err)
	}

	// Best effort only. A lost notice is not worth failing a
	// durably completed job over.
	if err := c.notifier.JobCompleted(ctx, messages.CompletionNotice{
		JobID:     req.JobID,
		UserName:  profile.Name,
		UserEmail: profile.Email,
		JobStatus: rec.JobStatus,
	}); err != nil {
		c.logger.Error("Failed to publish completion notice",
			slog.String("job_id", req.JobID),
			slog.Any("error", err),
		)
	}

	if !profile.Premium() {
		if err := c.scheduleArchival(ctx, rec.UserID, req.JobID, resultKey); err != nil {
			c.releaseWorkingArea(req.WorkDir, req.JobID)
			return err
		}
	}

	c.releaseWorkingArea(req.WorkDir, req.JobID)
	return nil
}

// scheduleArchival enqueues the archival request delayed by the
// account's hot-access entitlement window, so the result stays
// retrievable in the hot store for exactly that long.
func (c *Completion) scheduleArchival(ctx context.Context, userID, jobID, resultKey string) error {
	body, err := json.Marshal(messages.Archive{
		JobID:        jobID,
		UserID:       userID,
		HotResultKey: resultKey,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal archival request: %w", err)
	}

	if err := c.sender.Send(ctx, c.archivalQueue, rabbitmq.Publishing{
		Body:     body,
		Delay:    c.hotAccessWindow,
		DedupKey: jobID,
	}); err != nil {
		return fmt.Errorf("failed to enqueue archival request: %w", err)
	}

	c.logger.Info("Archival scheduled",
		slog.String("job_id", jobID),
		slog.Duration("delay", c.hotAccessWindow),
	)
	return nil
}

func (c *Completion) releaseWorkingArea(workDir, jobID string) {
	if err := os.RemoveAll(workDir); err != nil {
		c.logger.Error("Failed to release working area",
			slog.String("job_id", jobID),
			slog.String("work_dir", workDir),
			slog.Any("error", err),
		)
	}
}
