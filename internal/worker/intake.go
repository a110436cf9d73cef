package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/internal/messages"
)

// Launcher starts the external annotation computation for a job. The
// process is detached: its completion is observed only through the
// completion entry point it invokes itself.
type Launcher interface {
	Launch(inputPath, keyPrefix, jobID, fileName string) error
}

// IntakeConfig wires an intake worker.
type IntakeConfig struct {
	Queue     string
	Store     JobStore
	Hot       ObjectStore
	Launcher  Launcher
	WorkRoot  string
	KeyPrefix string
	Logger    *slog.Logger
}

// Intake consumes submission messages, materializes the job's local
// working area, launches the annotation computation and registers the
// PENDING to RUNNING transition.
type Intake struct {
	queue     string
	store     JobStore
	hot       ObjectStore
	launcher  Launcher
	workRoot  string
	keyPrefix string
	logger    *slog.Logger
}

// NewIntake creates an intake worker.
func NewIntake(cfg IntakeConfig) *Intake {
	return &Intake{
		queue:     cfg.Queue,
		store:     cfg.Store,
		hot:       cfg.Hot,
		launcher:  cfg.Launcher,
		workRoot:  cfg.WorkRoot,
		keyPrefix: cfg.KeyPrefix,
		logger:    cfg.Logger,
	}
}

func (w *Intake) Queue() string { return w.queue }

// Handle processes one submission. The per-job working directory is
// the launch deduplication guard: it is created before the
// computation starts and an already-existing directory means another
// delivery of the same job got there first.
func (w *Intake) Handle(ctx context.Context, body []byte) error {
	var msg messages.Submission
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("malformed submission message: %w", err)
	}
	if msg.JobID == "" || msg.UserID == "" || msg.InputKey == "" || msg.InputFileName == "" {
		return fmt.Errorf("submission message missing required fields: %+v", msg)
	}

	rec, err := w.store.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			// A submission without a record can never complete.
			return fmt.Errorf("no record for submitted job %s: %w", msg.JobID, err)
		}
		return jobs.NewRetryableError(err)
	}

	// Duplicate deliveries of an already launched job stop here,
	// before any download or launch.
	if rec.JobStatus != jobs.StatusPending {
		w.logger.Info("Duplicate submission for non-pending job, skipping",
			slog.String("job_id", msg.JobID),
			slog.String("job_status", rec.JobStatus),
		)
		return nil
	}

	if err := os.MkdirAll(w.workRoot, 0o755); err != nil {
		return jobs.NewRetryableError(fmt.Errorf("failed to create work root: %w", err))
	}

	jobDir := filepath.Join(w.workRoot, msg.JobID)
	if err := os.Mkdir(jobDir, 0o755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("duplicate submission: working area for job %s already exists", msg.JobID)
		}
		return jobs.NewRetryableError(fmt.Errorf("failed to create working area: %w", err))
	}

	inputPath := filepath.Join(jobDir, filepath.Base(msg.InputFileName))
	if err := w.hot.Download(ctx, msg.InputBucket, msg.InputKey, inputPath); err != nil {
		// The launch never happened, so the guard directory must
		// go away for the redelivery to get another attempt.
		w.discardWorkingArea(jobDir, msg.JobID)
		return jobs.NewRetryableError(fmt.Errorf("failed to download input: %w", err))
	}

	userPrefix := w.keyPrefix + msg.UserID + "/"
	if err := w.launcher.Launch(inputPath, userPrefix, msg.JobID, msg.InputFileName); err != nil {
		w.discardWorkingArea(jobDir, msg.JobID)
		return jobs.NewRetryableError(fmt.Errorf("failed to launch annotation: %w", err))
	}

	ok, err := w.store.TryTransition(ctx, msg.JobID, jobs.StatusPending, jobs.StatusRunning)
	if err != nil {
		// The computation is already running; the working directory
		// stays in place so a redelivery cannot launch it twice.
		return jobs.NewRetryableError(fmt.Errorf("failed to register running job: %w", err))
	}
	if !ok {
		w.logger.Info("Job already past PENDING, registration was a no-op",
			slog.String("job_id", msg.JobID),
		)
		return nil
	}

	w.logger.Info("Annotation job launched",
		slog.String("job_id", msg.JobID),
		slog.String("user_id", msg.UserID),
		slog.String("input_file", msg.InputFileName),
	)
	return nil
}

func (w *Intake) discardWorkingArea(jobDir, jobID string) {
	if err := os.RemoveAll(jobDir); err != nil {
		w.logger.Error("Failed to remove working area",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// ProcessLauncher launches the runner binary as a detached child
// process.
type ProcessLauncher struct {
	RunnerBin string
	Logger    *slog.Logger
}

// Launch starts the runner and does not wait for it. A goroutine
// reaps the child when it exits.
func (l *ProcessLauncher) Launch(inputPath, keyPrefix, jobID, fileName string) error {
	cmd := exec.Command(l.RunnerBin, inputPath, keyPrefix, jobID, fileName)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start runner: %w", err)
	}

	l.Logger.Info("Runner process started",
		slog.String("job_id", jobID),
		slog.Int("pid", cmd.Process.Pid),
	)

	go func() {
		if err := cmd.Wait(); err != nil {
			l.Logger.Error("Runner process exited with error",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
	}()
	return nil
}
