// Package vault is the cold archive store client. Writes are
// synchronous; reads go through an asynchronous retrieval that
// completes by publishing a thaw notification on its own channel.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/annolab/annopipe/internal/messages"
	"github.com/annolab/annopipe/shared/rabbitmq"
)

// Tier selects the speed/cost class of a retrieval.
type Tier string

const (
	TierExpedited Tier = "Expedited"
	TierStandard  Tier = "Standard"
)

// ErrInsufficientCapacity signals that the expedited tier has no
// capacity left in the current window. Callers fall back to the
// standard tier; this is an expected control path, not a failure.
var ErrInsufficientCapacity = errors.New("insufficient expedited retrieval capacity")

const (
	archivePrefix   = "archives/"
	retrievalPrefix = "retrievals/"
)

// Config holds vault connection and capacity configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// ExpeditedPerHour caps expedited retrievals per clock hour.
	// Zero or negative means the expedited tier is never available.
	ExpeditedPerHour int
	// ThawQueue is where retrieval-complete notifications are
	// published.
	ThawQueue string
}

// Sender publishes queue messages; satisfied by the rabbitmq broker.
type Sender interface {
	Send(ctx context.Context, queue string, p rabbitmq.Publishing) error
}

// Client is a MinIO-backed vault. Archives live under archives/<id>;
// retrieval output is staged under retrievals/<retrieval-id> and
// announced on the thaw queue.
type Client struct {
	s3     *minio.Client
	config *Config
	sender Sender
	logger *slog.Logger

	mu          sync.Mutex
	windowStart time.Time
	expedited   int
}

// NewClient creates a vault client.
func NewClient(config *Config, sender Sender, logger *slog.Logger) (*Client, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("vault bucket is required")
	}

	s3, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	logger.Info("Vault client initialized",
		slog.String("endpoint", config.Endpoint),
		slog.String("bucket", config.Bucket),
		slog.Int("expedited_per_hour", config.ExpeditedPerHour),
	)
	return &Client{s3: s3, config: config, sender: sender, logger: logger}, nil
}

// Upload writes the given bytes to cold storage and returns the new
// archive identifier.
func (c *Client) Upload(ctx context.Context, data []byte) (string, error) {
	archiveID := uuid.New().String()
	key := archivePrefix + archiveID

	_, err := c.s3.PutObject(ctx, c.config.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}

	c.logger.Info("Archive written",
		slog.String("archive_id", archiveID),
		slog.Int("size", len(data)),
	)
	return archiveID, nil
}

// InitiateRetrieval starts an asynchronous retrieval of an archive.
// The returned retrieval job id identifies the output; completion is
// signaled separately with a thaw notification carrying the
// description.
func (c *Client) InitiateRetrieval(ctx context.Context, archiveID, description string, tier Tier) (string, error) {
	if tier == TierExpedited {
		if err := c.takeExpeditedSlot(); err != nil {
			return "", err
		}
	}

	retrievalID := uuid.New().String()
	_, err := c.s3.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: c.config.Bucket, Object: retrievalPrefix + retrievalID},
		minio.CopySrcOptions{Bucket: c.config.Bucket, Object: archivePrefix + archiveID},
	)
	if err != nil {
		return "", fmt.Errorf("failed to stage retrieval of %s: %w", archiveID, err)
	}

	notice := messages.Thaw{
		RetrievalJobID: retrievalID,
		ArchiveID:      archiveID,
		Description:    description,
	}
	body, err := json.Marshal(notice)
	if err != nil {
		return "", fmt.Errorf("failed to marshal thaw notification: %w", err)
	}
	if err := c.sender.Send(ctx, c.config.ThawQueue, rabbitmq.Publishing{
		Body:     body,
		DedupKey: retrievalID,
	}); err != nil {
		return "", fmt.Errorf("failed to publish thaw notification: %w", err)
	}

	c.logger.Info("Retrieval initiated",
		slog.String("archive_id", archiveID),
		slog.String("retrieval_job_id", retrievalID),
		slog.String("tier", string(tier)),
	)
	return retrievalID, nil
}

// takeExpeditedSlot consumes one unit of expedited capacity in the
// current clock-hour window.
func (c *Client) takeExpeditedSlot() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Truncate(time.Hour)
	if !now.Equal(c.windowStart) {
		c.windowStart = now
		c.expedited = 0
	}
	if c.expedited >= c.config.ExpeditedPerHour {
		return ErrInsufficientCapacity
	}
	c.expedited++
	return nil
}

// ReadRetrievalOutput returns the bytes of a completed retrieval.
func (c *Client) ReadRetrievalOutput(ctx context.Context, retrievalJobID string) ([]byte, error) {
	obj, err := c.s3.GetObject(ctx, c.config.Bucket, retrievalPrefix+retrievalJobID, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get retrieval output %s: %w", retrievalJobID, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read retrieval output %s: %w", retrievalJobID, err)
	}
	return data, nil
}

// DeleteArchive removes an archive from cold storage. Deleting an
// archive that is already gone is not an error.
func (c *Client) DeleteArchive(ctx context.Context, archiveID string) error {
	err := c.s3.RemoveObject(ctx, c.config.Bucket, archivePrefix+archiveID, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete archive %s: %w", archiveID, err)
	}
	return nil
}
