// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type APIConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	ExecuteMaxAttempts int           `yaml:"execute_max_attempts"`
	ExecuteBackoff     time.Duration `yaml:"execute_backoff"`
	SuccessRetention   time.Duration `yaml:"success_retention"`
	FailureRetention   time.Duration `yaml:"failure_retention"`
}

type WorkerConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	PollInterval     time.Duration `yaml:"poll_interval"`      // delay between poll messages
	PollCeiling      time.Duration `yaml:"poll_ceiling"`       // max wall time in the poll loop
	PollMaxAttempts  int           `yaml:"poll_max_attempts"`  // delivery retries per poll message
	DeadLetterSweep  time.Duration `yaml:"dead_letter_sweep"`  // sweep period
	DequeueIdleDelay time.Duration `yaml:"dequeue_idle_delay"` // wait when queue is empty
}

type LimitsConfig struct {
	MaxActiveRuns  int `yaml:"max_active_runs"`  // per identity
	MaxOpenStreams int `yaml:"max_open_streams"` // per user
}

type EngineConfig struct {
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`
	TokenSkew    time.Duration `yaml:"token_skew"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
	JWTSecret     string `yaml:"jwt_secret"`
}

type EventsConfig struct {
	BackfillTTL time.Duration `yaml:"backfill_ttl"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

type Config struct {
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Limits   LimitsConfig   `yaml:"limits"`
	Engine   EngineConfig   `yaml:"engine"`
	Security SecurityConfig `yaml:"security"`
	Events   EventsConfig   `yaml:"events"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// ApplyDefaults normalizes zero values. Exposed so tests can build a usable
// config without a YAML file.
func (cfg *Config) ApplyDefaults() {
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Queue.ExecuteMaxAttempts <= 0 {
		cfg.Queue.ExecuteMaxAttempts = 2
	}
	if cfg.Queue.ExecuteBackoff <= 0 {
		cfg.Queue.ExecuteBackoff = 5 * time.Second
	}
	if cfg.Queue.SuccessRetention <= 0 {
		cfg.Queue.SuccessRetention = time.Hour
	}
	if cfg.Queue.FailureRetention <= 0 {
		cfg.Queue.FailureRetention = 24 * time.Hour
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 8
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = 2 * time.Second
	}
	if cfg.Worker.PollCeiling <= 0 {
		cfg.Worker.PollCeiling = 10 * time.Minute
	}
	if cfg.Worker.PollMaxAttempts <= 0 {
		cfg.Worker.PollMaxAttempts = 3
	}
	if cfg.Worker.DeadLetterSweep <= 0 {
		cfg.Worker.DeadLetterSweep = time.Minute
	}
	if cfg.Worker.DequeueIdleDelay <= 0 {
		cfg.Worker.DequeueIdleDelay = 250 * time.Millisecond
	}
	if cfg.Limits.MaxActiveRuns <= 0 {
		cfg.Limits.MaxActiveRuns = 10
	}
	if cfg.Limits.MaxOpenStreams <= 0 {
		cfg.Limits.MaxOpenStreams = 5
	}
	if cfg.Engine.Timeout <= 0 {
		cfg.Engine.Timeout = 30 * time.Second
	}
	if cfg.Engine.TokenSkew <= 0 {
		cfg.Engine.TokenSkew = 30 * time.Second
	}
	if cfg.Events.BackfillTTL <= 0 {
		cfg.Events.BackfillTTL = 24 * time.Hour
	}
	if cfg.Events.Heartbeat <= 0 {
		cfg.Events.Heartbeat = 15 * time.Second
	}
}
