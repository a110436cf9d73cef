// The runner wraps one annotation run: it executes the external
// annotation tool on the downloaded input, then performs the
// completion steps (artifact upload, record update, notification,
// archival scheduling) in-process. The intake worker launches it as a
// detached child per job.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/annolab/annopipe/internal/accounts"
	"github.com/annolab/annopipe/internal/config"
	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/internal/notify"
	"github.com/annolab/annopipe/internal/worker"
	"github.com/annolab/annopipe/shared/logger"
	"github.com/annolab/annopipe/shared/objstore"
	"github.com/annolab/annopipe/shared/postgresql"
	"github.com/annolab/annopipe/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("ANNOPIPE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Positional arguments, as passed by the intake launcher.
	args := flag.Args()
	if len(args) != 4 {
		return fmt.Errorf("usage: runner [-config path] <input-path> <key-prefix> <job-id> <file-name>")
	}
	inputPath, keyPrefix, jobID, fileName := args[0], args[1], args[2], args[3]

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Annotator.ToolBin == "" {
		return fmt.Errorf("annotator tool_bin is required")
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting annotation run",
		slog.String("job_id", jobID),
		slog.String("input_path", inputPath),
	)

	// The tool writes its result and log files next to the input.
	tool := exec.Command(cfg.Annotator.ToolBin, inputPath)
	tool.Stdout = os.Stdout
	tool.Stderr = os.Stderr
	if err := tool.Run(); err != nil {
		return fmt.Errorf("annotation tool failed for job %s: %w", jobID, err)
	}

	appLogger.Info("Annotation tool finished", slog.String("job_id", jobID))

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	broker, err := initBroker(&cfg.RabbitMQ, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer broker.Close()

	hot, err := objstore.NewClient(&objstore.Config{
		Endpoint:  cfg.HotStore.Endpoint,
		AccessKey: cfg.HotStore.AccessKey,
		SecretKey: cfg.HotStore.SecretKey,
		UseSSL:    cfg.HotStore.UseSSL,
	}, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize hot store: %w", err)
	}

	ctx := context.Background()
	if err := hot.EnsureBucket(ctx, cfg.HotStore.ResultsBucket); err != nil {
		return fmt.Errorf("failed to ensure results bucket: %w", err)
	}

	completion := worker.NewCompletion(worker.CompletionConfig{
		Store:           jobs.NewStore(dbClient.GetDB(), appLogger),
		Hot:             hot,
		Directory:       accounts.NewDirectory(dbClient.GetDB(), appLogger),
		Notifier:        notify.NewNotifier(broker, appLogger),
		Sender:          broker,
		ResultsBucket:   cfg.HotStore.ResultsBucket,
		ArchivalQueue:   cfg.RabbitMQ.Queues.Archival,
		HotAccessWindow: cfg.Archival.HotAccessWindow,
		Logger:          appLogger,
	})

	if err := completion.Finish(ctx, worker.FinishRequest{
		JobID:     jobID,
		KeyPrefix: keyPrefix,
		FileName:  fileName,
		WorkDir:   filepath.Dir(inputPath),
	}); err != nil {
		return fmt.Errorf("failed to finish job %s: %w", jobID, err)
	}

	appLogger.Info("Annotation run complete", slog.String("job_id", jobID))
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*slog.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		AddSource:  cfg.EnableCaller,
		TimeFormat: time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initBroker initializes the RabbitMQ broker
func initBroker(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Broker, error) {
	return rabbitmq.NewBroker(&rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		Queues:            cfg.Queues.All(),
		NotifyExchange:    cfg.NotifyExchange,
		PrefetchCount:     cfg.PrefetchCount,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		ConnectionTimeout: cfg.Connection.ConnectionTimeout,
	}, logger)
}
