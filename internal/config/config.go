package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/jobengine/internal/queue"
	"github.com/cuongbtq/jobengine/shared/logger"
	"github.com/cuongbtq/jobengine/shared/postgresql"
	"github.com/cuongbtq/jobengine/shared/rabbitmq"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvPrefix prefixes every environment override
	EnvPrefix = "JOBENGINE_"
)

// Queue backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
	BackendPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig         `yaml:"app"`
	Logging  logger.Config     `yaml:"logging"`
	Server   ServerConfig      `yaml:"server"`
	Engine   EngineConfig      `yaml:"engine"`
	Queues   []QueueConfig     `yaml:"queues" envPrefix:"QUEUES_"`
	Redis    RedisConfig       `yaml:"redis"`
	RabbitMQ rabbitmq.Config   `yaml:"rabbitmq"`
	Database postgresql.Config `yaml:"database"`
	Store    StoreConfig       `yaml:"store"`
	Metrics  MetricsConfig     `yaml:"metrics"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name" env:"APP_NAME"`
	Version     string `yaml:"version" env:"APP_VERSION"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// Addr is the listen address of the HTTP server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EngineConfig describes the job and its worker pool
type EngineConfig struct {
	Name          string        `yaml:"name" env:"ENGINE_NAME"`
	Instance      string        `yaml:"instance" env:"ENGINE_INSTANCE"`
	Workers       int           `yaml:"workers" env:"ENGINE_WORKERS"`
	Handler       string        `yaml:"handler" env:"ENGINE_HANDLER"`
	Pages         int           `yaml:"pages" env:"ENGINE_PAGES"` // page count for the paged handler
	MaxMore       int           `yaml:"max_more" env:"ENGINE_MAX_MORE"`
	Backend       string        `yaml:"backend" env:"ENGINE_BACKEND"`
	DispatchRate  float64       `yaml:"dispatch_rate" env:"ENGINE_DISPATCH_RATE"` // tasks per second, 0 for no cap
	DispatchBurst int           `yaml:"dispatch_burst" env:"ENGINE_DISPATCH_BURST"`
	PollInitial   time.Duration `yaml:"poll_initial" env:"ENGINE_POLL_INITIAL"`
	PollMax       time.Duration `yaml:"poll_max" env:"ENGINE_POLL_MAX"`
	AutoStart     bool          `yaml:"auto_start" env:"ENGINE_AUTO_START"`
}

// QueueConfig names one queue polled by the job.
// From the environment: JOBENGINE_QUEUES_0_NAME, JOBENGINE_QUEUES_0_PRIORITY, ...
type QueueConfig struct {
	Name     string `yaml:"name" env:"NAME"`
	Priority string `yaml:"priority" env:"PRIORITY"`
}

// RedisConfig holds Redis connection settings for the redis backend
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX"`
}

// StoreConfig selects where the command log is kept. An empty path keeps it in memory.
type StoreConfig struct {
	Path string `yaml:"path" env:"STORE_PATH"`
}

// MetricsConfig toggles the OpenTelemetry sink
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"METRICS_ENABLED"`
}

// Default returns a configuration that runs a single in-memory queue
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "jobengine", Environment: "development"},
		Logging: logger.Config{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: EngineConfig{
			Name:        "default",
			Workers:     2,
			Handler:     "echo",
			Pages:       3,
			Backend:     BackendMemory,
			PollInitial: 2 * time.Second,
			PollMax:     time.Minute,
		},
		Queues: []QueueConfig{{Name: "default", Priority: "mid"}},
		Redis:  RedisConfig{Addr: "localhost:6379", Prefix: "jobengine"},
	}
}

// Load reads the configuration file over the defaults and applies
// JOBENGINE_* environment overrides. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Engine.Name == "" {
		return fmt.Errorf("engine name is required")
	}

	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine workers must be greater than 0")
	}

	if c.Engine.DispatchRate < 0 {
		return fmt.Errorf("engine dispatch_rate must not be negative")
	}

	if len(c.Queues) == 0 {
		return fmt.Errorf("at least one queue is required")
	}

	seen := make(map[string]bool, len(c.Queues))
	for _, q := range c.Queues {
		if q.Name == "" {
			return fmt.Errorf("queue name is required")
		}
		if seen[q.Name] {
			return fmt.Errorf("duplicate queue name: %s", q.Name)
		}
		seen[q.Name] = true
		if _, err := q.ParsePriority(); err != nil {
			return err
		}
	}

	return c.validateBackend()
}

func (c *Config) validateBackend() error {
	switch c.Engine.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis backend")
		}
	case BackendRabbitMQ:
		if c.RabbitMQ.URL == "" && c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required for the rabbitmq backend")
		}
		if c.RabbitMQ.URL == "" && (c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort) {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
	case BackendPostgres:
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database host is required for the postgres backend")
		}
		if c.Database.DSN == "" && c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Engine.Backend)
	}
	return nil
}

// ParsePriority returns the polling priority of q. Empty means mid.
func (q QueueConfig) ParsePriority() (queue.Priority, error) {
	if q.Priority == "" {
		return queue.Mid, nil
	}
	p, err := queue.ParsePriority(q.Priority)
	if err != nil {
		return p, fmt.Errorf("invalid priority for queue %s: %w", q.Name, err)
	}
	return p, nil
}
