package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration. It is
// built once at process start and threaded into every component.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	HotStore  HotStoreConfig  `yaml:"hotstore"`
	Vault     VaultConfig     `yaml:"vault"`
	Annotator AnnotatorConfig `yaml:"annotator"`
	Archival  ArchivalConfig  `yaml:"archival"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds broker connection and queue topology
// configuration
type RabbitMQConfig struct {
	Host           string           `yaml:"host"`
	Port           int              `yaml:"port"`
	User           string           `yaml:"user"`
	Password       string           `yaml:"password"`
	VHost          string           `yaml:"vhost"`
	Queues         QueuesConfig     `yaml:"queues"`
	NotifyExchange string           `yaml:"notify_exchange"`
	PrefetchCount  int              `yaml:"prefetch_count"`
	Connection     ConnectionConfig `yaml:"connection"`
}

// QueuesConfig names the four pipeline queues.
type QueuesConfig struct {
	Submission string `yaml:"submission"`
	Archival   string `yaml:"archival"`
	Restore    string `yaml:"restore"`
	Thaw       string `yaml:"thaw"`
}

// All returns the queue names in declaration order.
func (q QueuesConfig) All() []string {
	return []string{q.Submission, q.Archival, q.Restore, q.Thaw}
}

// ConnectionConfig holds broker connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// HotStoreConfig holds hot object store configuration
type HotStoreConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	InputBucket   string `yaml:"input_bucket"`
	ResultsBucket string `yaml:"results_bucket"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// VaultConfig holds cold archive store configuration
type VaultConfig struct {
	Endpoint         string `yaml:"endpoint"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	UseSSL           bool   `yaml:"use_ssl"`
	Bucket           string `yaml:"bucket"`
	ExpeditedPerHour int    `yaml:"expedited_per_hour"`
}

// AnnotatorConfig holds intake worker and runner configuration
type AnnotatorConfig struct {
	WorkRoot  string `yaml:"work_root"`
	RunnerBin string `yaml:"runner_bin"`
	ToolBin   string `yaml:"tool_bin"`
}

// ArchivalConfig holds archival worker configuration
type ArchivalConfig struct {
	// HotAccessWindow is how long a free-tier result stays in the
	// hot store before the archival request becomes visible.
	HotAccessWindow time.Duration `yaml:"hot_access_window"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

func (c *Config) validateCommon() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}
	for _, queue := range c.RabbitMQ.Queues.All() {
		if queue == "" {
			return fmt.Errorf("all four pipeline queue names are required")
		}
	}

	if c.HotStore.Endpoint == "" {
		return fmt.Errorf("hot store endpoint is required")
	}
	if c.HotStore.InputBucket == "" || c.HotStore.ResultsBucket == "" {
		return fmt.Errorf("hot store input and results buckets are required")
	}
	return nil
}

// ValidateAPIConfig checks the fields the API service depends on.
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	return c.validateCommon()
}

// ValidateWorkerConfig checks the fields the pipeline workers depend
// on.
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.Vault.Bucket == "" {
		return fmt.Errorf("vault bucket is required")
	}
	if c.Annotator.WorkRoot == "" {
		return fmt.Errorf("annotator work_root is required")
	}
	if c.Archival.HotAccessWindow <= 0 {
		return fmt.Errorf("archival hot_access_window must be greater than 0")
	}
	return nil
}
