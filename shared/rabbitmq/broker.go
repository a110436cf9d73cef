// Package rabbitmq provides the durable queue broker used by every
// pipeline worker. Each logical queue gets a companion ".delay" queue
// whose dead-letter routing feeds back into the main queue, which is
// how delayed delivery (e.g. the archival grace window) is implemented.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection and topology configuration
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	Queues            []string
	NotifyExchange    string
	PrefetchCount     int
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
}

// Publishing describes an outgoing queue message.
type Publishing struct {
	Body []byte
	// Delay holds the message back for the given duration before it
	// becomes visible on the target queue.
	Delay time.Duration
	// DedupKey and GroupKey are carried as headers for consumers and
	// intermediaries that suppress duplicate or interleaved deliveries.
	DedupKey string
	GroupKey string
}

// Broker is a RabbitMQ client scoped to the pipeline's queue topology.
type Broker struct {
	config  *Config
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewBroker connects to RabbitMQ with retry and declares the queue
// topology named in the configuration.
func NewBroker(config *Config, logger *slog.Logger) (*Broker, error) {
	b := &Broker{config: config, logger: logger}
	if err := b.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ broker: %w", err)
	}
	return b, nil
}

func (b *Broker) connect() error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		b.config.User,
		b.config.Password,
		b.config.Host,
		b.config.Port,
		b.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: b.config.Heartbeat,
		Locale:    "en_US",
	}

	attempts := b.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		b.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		b.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		b.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)
		if attempt < attempts {
			time.Sleep(b.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	b.channel, err = b.conn.Channel()
	if err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := b.declareTopology(); err != nil {
		b.channel.Close()
		b.conn.Close()
		return fmt.Errorf("failed to declare topology: %w", err)
	}

	b.logger.Info("RabbitMQ broker initialized",
		slog.Any("queues", b.config.Queues),
		slog.String("notify_exchange", b.config.NotifyExchange),
	)
	return nil
}

// declareTopology declares every configured queue, its delay
// companion, and the notification exchange. Declarations are
// idempotent so every worker process can run them on startup.
func (b *Broker) declareTopology() error {
	for _, queue := range b.config.Queues {
		if queue == "" {
			continue
		}
		if _, err := b.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}

		if _, err := b.channel.QueueDeclare(
			delayQueueName(queue),
			true,
			false,
			false,
			false,
			amqp.Table{
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": queue,
			},
		); err != nil {
			return fmt.Errorf("failed to declare delay queue for %s: %w", queue, err)
		}
	}

	if b.config.NotifyExchange != "" {
		if err := b.channel.ExchangeDeclare(
			b.config.NotifyExchange,
			"fanout",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare notify exchange: %w", err)
		}
	}
	return nil
}

func delayQueueName(queue string) string {
	return queue + ".delay"
}

// Consume starts a prefetch-1 consumer on the given queue. With a
// single unacknowledged message in flight, reading from the returned
// channel behaves like a blocking one-message receive.
func (b *Broker) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	prefetch := b.config.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := b.channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := b.channel.Consume(
		queue,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", queue, err)
	}

	b.logger.Info("Started consuming messages",
		slog.String("queue", queue),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", prefetch),
	)
	return deliveries, nil
}

// Send publishes a message to the named queue. A positive Delay routes
// the message through the queue's delay companion with a per-message
// TTL, so it surfaces on the target queue only after the delay expires.
func (b *Broker) Send(ctx context.Context, queue string, p Publishing) error {
	headers := amqp.Table{}
	if p.DedupKey != "" {
		headers["x-dedup-key"] = p.DedupKey
	}
	if p.GroupKey != "" {
		headers["x-group-key"] = p.GroupKey
	}

	routingKey := queue
	pub := amqp.Publishing{
		ContentType:  "application/json",
		Body:         p.Body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headers,
	}

	if p.Delay > 0 {
		routingKey = delayQueueName(queue)
		pub.Expiration = strconv.FormatInt(p.Delay.Milliseconds(), 10)
	}

	err := b.channel.PublishWithContext(ctx,
		"", // default exchange
		routingKey,
		false, // mandatory
		false, // immediate
		pub,
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	b.logger.Debug("Message published",
		slog.String("queue", queue),
		slog.Duration("delay", p.Delay),
		slog.Int("body_size", len(p.Body)),
	)
	return nil
}

// Notify publishes a fire-and-forget message to the notification
// exchange with a deduplication key header.
func (b *Broker) Notify(ctx context.Context, body []byte, dedupKey string) error {
	if b.config.NotifyExchange == "" {
		return fmt.Errorf("notify exchange is not configured")
	}

	err := b.channel.PublishWithContext(ctx,
		b.config.NotifyExchange,
		"",    // fanout ignores routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{"x-dedup-key": dedupKey},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (b *Broker) Close() error {
	b.logger.Info("Closing RabbitMQ connection")

	if b.channel != nil {
		if err := b.channel.Close(); err != nil {
			b.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			return err
		}
	}
	return nil
}
