// Package worker contains the five queue-driven pipeline workers:
// intake, completion, archival, restore and thaw. Workers share no
// state with each other; they cooperate only through the job record
// store and queue messages.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/annolab/annopipe/internal/accounts"
	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/internal/messages"
	"github.com/annolab/annopipe/internal/vault"
	"github.com/annolab/annopipe/shared/rabbitmq"
)

// JobStore is the slice of the job record store the workers need.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*jobs.Record, error)
	TryTransition(ctx context.Context, jobID, from, to string) (bool, error)
	MarkCompleted(ctx context.Context, jobID, resultKey, logKey string, completeTime int64) error
	MarkArchived(ctx context.Context, jobID, archiveID string) error
	MarkRestored(ctx context.Context, jobID, resultKey string) error
	ListArchivedByUser(ctx context.Context, userID string) ([]jobs.Record, error)
}

// ObjectStore is the hot store surface used by the workers.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
	Delete(ctx context.Context, bucket, key string) error
	Download(ctx context.Context, bucket, key, path string) error
	Upload(ctx context.Context, bucket, key, path string) error
}

// Vault is the cold archive store surface used by the workers.
type Vault interface {
	Upload(ctx context.Context, data []byte) (string, error)
	InitiateRetrieval(ctx context.Context, archiveID, description string, tier vault.Tier) (string, error)
	ReadRetrievalOutput(ctx context.Context, retrievalJobID string) ([]byte, error)
	DeleteArchive(ctx context.Context, archiveID string) error
}

// Directory resolves account profiles.
type Directory interface {
	GetProfile(ctx context.Context, userID string) (*accounts.Profile, error)
}

// Sender publishes queue messages.
type Sender interface {
	Send(ctx context.Context, queue string, p rabbitmq.Publishing) error
}

// Notifier publishes best-effort user notifications.
type Notifier interface {
	JobCompleted(ctx context.Context, notice messages.CompletionNotice) error
}

// Handler processes one queue message body. The returned error
// decides the message's fate: nil acknowledges it, a RetryableError
// leaves it for redelivery, anything else is a permanent failure and
// the message is consumed to avoid a poison loop.
type Handler interface {
	Queue() string
	Handle(ctx context.Context, body []byte) error
}

// redeliveryPause keeps a persistently failing message from spinning
// between nack and immediate redelivery.
const redeliveryPause = time.Second

// Run consumes the handler's queue until the context is canceled.
// The loop is single-threaded with one unacknowledged message in
// flight, so all parallelism in the system comes from running
// multiple worker processes.
func Run(ctx context.Context, broker *rabbitmq.Broker, h Handler, logger *slog.Logger) error {
	consumerTag := fmt.Sprintf("%s-%d", h.Queue(), os.Getpid())
	deliveries, err := broker.Consume(h.Queue(), consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	logger.Info("Worker loop started",
		slog.String("queue", h.Queue()),
		slog.String("consumer_tag", consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker loop stopped", slog.String("queue", h.Queue()))
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", h.Queue())
			}
			settle(ctx, delivery, h.Handle(ctx, delivery.Body), logger)
		}
	}
}

// settle acknowledges or requeues a delivery based on the handler
// outcome.
func settle(ctx context.Context, delivery amqp.Delivery, err error, logger *slog.Logger) {
	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.Any("error", ackErr))
		}

	case jobs.IsRetryable(err):
		logger.Warn("Transient failure, leaving message for redelivery",
			slog.String("error", err.Error()),
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			logger.Error("Failed to NACK message", slog.Any("error", nackErr))
		}
		select {
		case <-ctx.Done():
		case <-time.After(redeliveryPause):
		}

	default:
		logger.Error("Permanent failure, consuming message",
			slog.String("error", err.Error()),
		)
		if ackErr := delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.Any("error", ackErr))
		}
	}
}
