package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/annolab/annopipe/internal/accounts"
	"github.com/annolab/annopipe/internal/config"
	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/internal/vault"
	"github.com/annolab/annopipe/internal/worker"
	"github.com/annolab/annopipe/shared/logger"
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

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting restorer",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

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

	coldVault, err := vault.NewClient(&vault.Config{
		Endpoint:         cfg.Vault.Endpoint,
		AccessKey:        cfg.Vault.AccessKey,
		SecretKey:        cfg.Vault.SecretKey,
		UseSSL:           cfg.Vault.UseSSL,
		Bucket:           cfg.Vault.Bucket,
		ExpeditedPerHour: cfg.Vault.ExpeditedPerHour,
		ThawQueue:        cfg.RabbitMQ.Queues.Thaw,
	}, broker, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	restore := worker.NewRestore(worker.RestoreConfig{
		Queue:     cfg.RabbitMQ.Queues.Restore,
		Store:     jobs.NewStore(dbClient.GetDB(), appLogger),
		Vault:     coldVault,
		Directory: accounts.NewDirectory(dbClient.GetDB(), appLogger),
		KeyPrefix: cfg.HotStore.KeyPrefix,
		Logger:    appLogger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- worker.Run(ctx, broker, restore, appLogger)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
			return err
		}
	}

	appLogger.Info("Restorer shutdown complete")
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
