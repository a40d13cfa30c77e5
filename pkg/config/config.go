// Package config loads the server configuration from a YAML file and the environment.
// Environment variables win over the file, and the file wins over the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/guido-cesarano/goqueue/pkg/tasks"
	"gopkg.in/yaml.v3"
)

// Backoff strategies accepted in queue.backoff.
const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// QueueConfig configures the in-process queue.
type QueueConfig struct {
	Concurrency int           `yaml:"concurrency"`
	AutoStart   bool          `yaml:"auto_start"`
	RetryLimit  int           `yaml:"retry_limit"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Backoff     string        `yaml:"backoff"`
	// MaxDelay caps exponential backoff. Zero means uncapped.
	MaxDelay time.Duration `yaml:"max_delay,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	APIKey          string        `yaml:"api_key,omitempty"`
	Env             string        `yaml:"env"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig configures the outcome store. An empty Addr disables it.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	ResultTTL    time.Duration `yaml:"result_ttl"`
	HistoryLimit int64         `yaml:"history_limit"`
}

// RateLimitConfig configures the per-type token bucket applied to /enqueue.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	Rate    int  `yaml:"rate"`
	Burst   int  `yaml:"burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ScheduleConfig declares a recurring task.
type ScheduleConfig struct {
	Name     string `yaml:"name"`
	Spec     string `yaml:"spec"`
	Type     string `yaml:"type"`
	Payload  string `yaml:"payload,omitempty"`
	Priority string `yaml:"priority,omitempty"`
}

// Config models config.yaml.
type Config struct {
	Queue     QueueConfig      `yaml:"queue"`
	Server    ServerConfig     `yaml:"server"`
	Redis     RedisConfig      `yaml:"redis"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Log       LogConfig        `yaml:"log"`
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Concurrency: 4,
			AutoStart:   true,
			RetryLimit:  3,
			RetryDelay:  queue.DefaultRetryDelay,
			Backoff:     BackoffExponential,
			MaxDelay:    30 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			Env:             "development",
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "127.0.0.1:6379",
			ResultTTL:    24 * time.Hour,
			HistoryLimit: 100,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    10, // 10 tasks/sec
			Burst:   20,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then applies environment overrides. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from non-empty environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("QUEUE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: QUEUE_CONCURRENCY: %w", err)
		}
		c.Queue.Concurrency = n
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Queue.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("queue.concurrency must be at least 1, got %d", c.Queue.Concurrency))
	}
	if c.Queue.RetryLimit < 0 {
		errs = append(errs, fmt.Errorf("queue.retry_limit must not be negative, got %d", c.Queue.RetryLimit))
	}
	switch c.Queue.Backoff {
	case "", BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		errs = append(errs, fmt.Errorf("queue.backoff: unknown strategy %q", c.Queue.Backoff))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Rate < 1 || c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("rate_limit: rate and burst must be positive"))
	}
	for i, s := range c.Schedules {
		if s.Name == "" || s.Spec == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: name and spec are required", i))
		}
		if _, ok := tasks.ParsePriority(s.Priority); !ok {
			errs = append(errs, fmt.Errorf("schedules[%d]: unknown priority %q", i, s.Priority))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IsProduction reports whether the server runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Options translates the queue section into queue options.
func (qc QueueConfig) Options() []queue.Option {
	opts := []queue.Option{
		queue.WithConcurrency(qc.Concurrency),
		queue.WithAutoStart(qc.AutoStart),
		queue.WithRetryLimit(qc.RetryLimit),
	}
	switch qc.Backoff {
	case BackoffLinear:
		opts = append(opts, queue.WithBackoff(queue.LinearBackoff{Base: qc.RetryDelay, Step: qc.RetryDelay}))
	case BackoffExponential:
		opts = append(opts, queue.WithBackoff(queue.ExponentialBackoff{Base: qc.RetryDelay, Max: qc.MaxDelay}))
	default:
		opts = append(opts, queue.WithRetryDelay(qc.RetryDelay))
	}
	return opts
}
