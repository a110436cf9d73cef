// Package notify publishes best-effort user-facing events. Delivery
// is fire-and-forget: the pipeline never blocks or retries on it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/annolab/annopipe/internal/messages"
)

// Publisher is the notification channel; satisfied by the rabbitmq
// broker's Notify method.
type Publisher interface {
	Notify(ctx context.Context, body []byte, dedupKey string) error
}

// Notifier publishes job-lifecycle notices.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewNotifier creates a notifier on the given channel.
func NewNotifier(publisher Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{publisher: publisher, logger: logger}
}

// JobCompleted announces a completed job. The job id doubles as the
// deduplication key so a redelivered completion does not fan out
// twice.
func (n *Notifier) JobCompleted(ctx context.Context, notice messages.CompletionNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal completion notice: %w", err)
	}
	if err := n.publisher.Notify(ctx, body, notice.JobID); err != nil {
		return fmt.Errorf("failed to publish completion notice: %w", err)
	}

	n.logger.Debug("Completion notice published",
		slog.String("job_id", notice.JobID),
		slog.String("user_email", notice.UserEmail),
	)
	return nil
}
