// Package handler implements the HTTP surface of the pipeline: job
// submission and lookup plus the account upgrade that triggers
// restoration of archived results.
package handler

import (
	"context"
	"log/slog"

	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/shared/rabbitmq"
)

// JobStore is the record-store surface the handlers need.
type JobStore interface {
	Create(ctx context.Context, rec *jobs.Record) error
	Get(ctx context.Context, jobID string) (*jobs.Record, error)
	ListByUser(ctx context.Context, userID string) ([]jobs.Record, error)
}

// AccountDirectory mutates account tiers.
type AccountDirectory interface {
	Upgrade(ctx context.Context, userID string) error
}

// Sender publishes queue messages.
type Sender interface {
	Send(ctx context.Context, queue string, p rabbitmq.Publishing) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger          *slog.Logger
	Store           JobStore
	Directory       AccountDirectory
	Sender          Sender
	SubmissionQueue string
	RestoreQueue    string
	InputBucket     string
	KeyPrefix       string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger          *slog.Logger
	store           JobStore
	sender          Sender
	submissionQueue string
	inputBucket     string
	keyPrefix       string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:          deps.Logger,
		store:           deps.Store,
		sender:          deps.Sender,
		submissionQueue: deps.SubmissionQueue,
		inputBucket:     deps.InputBucket,
		keyPrefix:       deps.KeyPrefix,
	}
}

// AccountHandler handles account-related HTTP requests
type AccountHandler struct {
	logger       *slog.Logger
	directory    AccountDirectory
	sender       Sender
	restoreQueue string
}

// NewAccountHandler creates a new AccountHandler instance
func NewAccountHandler(deps *Dependencies) *AccountHandler {
	return &AccountHandler{
		logger:       deps.Logger,
		directory:    deps.Directory,
		sender:       deps.Sender,
		restoreQueue: deps.RestoreQueue,
	}
}
