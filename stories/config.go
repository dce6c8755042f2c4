// CLAUDE:SUMMARY Service configuration: YAML-loadable with defaults, duration helpers, and validation.
package stories

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config configures the stories service. Durations are expressed in
// integer units so the file stays plain YAML.
type Config struct {
	Listen   string         `yaml:"listen"`
	DBPath   string         `yaml:"db_path"`
	OpsDB    string         `yaml:"ops_db_path"` // events, rate limits; separate to avoid write contention
	Fetch    FetchConfig    `yaml:"fetch"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Worker   WorkerConfig   `yaml:"worker"`
	Schedule ScheduleConfig `yaml:"schedule"`

	// ItemRetentionDays prunes stored items whose last fetch is older than
	// this many days. 0 keeps items forever.
	ItemRetentionDays int `yaml:"item_retention_days"`
}

// FetchConfig configures the upstream client.
type FetchConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
	UserAgent      string `yaml:"user_agent"`
}

// Timeout returns the per-request timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DedupConfig controls reuse of finished jobs.
type DedupConfig struct {
	// FreshWindowSeconds is how long a succeeded job satisfies equivalent
	// submissions. 0 disables reuse of finished jobs; active jobs always
	// deduplicate regardless.
	FreshWindowSeconds int `yaml:"fresh_window_seconds"`
}

// FreshWindow returns the freshness window as a duration.
func (c DedupConfig) FreshWindow() time.Duration {
	return time.Duration(c.FreshWindowSeconds) * time.Second
}

// WorkerConfig sizes the dispatch pool and the retry policy.
type WorkerConfig struct {
	Workers           int `yaml:"workers"`
	QueueSize         int `yaml:"queue_size"`
	MaxRetries        int `yaml:"max_retries"` // retries after the first attempt
	RetryBackoffMs    int `yaml:"retry_backoff_ms"`
	JobTimeoutSeconds int `yaml:"job_timeout_seconds"` // whole-job ceiling across retries
}

// RetryBackoff returns the base backoff between attempts.
func (c WorkerConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// JobTimeout returns the per-job execution ceiling.
func (c WorkerConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// ScheduleConfig drives the periodic background fetch.
type ScheduleConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
	MinScore        int  `yaml:"min_score"`
	Limit           int  `yaml:"limit"`
}

// Interval returns the tick interval.
func (c ScheduleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "hnfetch.db"
	}
	if c.OpsDB == "" {
		c.OpsDB = "hnfetch_ops.db"
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = 15
	}
	if c.Fetch.MaxConcurrent <= 0 {
		c.Fetch.MaxConcurrent = 10
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "hnfetch/1.0"
	}
	if c.Dedup.FreshWindowSeconds < 0 {
		c.Dedup.FreshWindowSeconds = 0
	}
	if c.Worker.Workers <= 0 {
		c.Worker.Workers = 4
	}
	if c.Worker.QueueSize <= 0 {
		c.Worker.QueueSize = 64
	}
	if c.Worker.MaxRetries < 0 {
		c.Worker.MaxRetries = 0
	}
	if c.Worker.RetryBackoffMs <= 0 {
		c.Worker.RetryBackoffMs = 2000
	}
	if c.Worker.JobTimeoutSeconds <= 0 {
		c.Worker.JobTimeoutSeconds = 120
	}
	if c.Schedule.IntervalMinutes <= 0 {
		c.Schedule.IntervalMinutes = 30
	}
	if c.Schedule.Limit <= 0 {
		c.Schedule.Limit = 100
	}
	if c.ItemRetentionDays < 0 {
		c.ItemRetentionDays = 0
	}
}

// DefaultConfig returns the service defaults: 60s freshness window, one
// retry with 2s backoff, scheduled fetch every 30 minutes for stories
// scoring at least 50.
func DefaultConfig() *Config {
	cfg := &Config{
		Dedup:  DedupConfig{FreshWindowSeconds: 60},
		Worker: WorkerConfig{MaxRetries: 1},
		Schedule: ScheduleConfig{
			Enabled:  true,
			MinScore: 50,
		},
	}
	cfg.defaults()
	return cfg
}

// LoadConfig reads a YAML config file merged over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, cfg.Validate()
}

// Validate checks value ranges that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Schedule.Limit > 500 {
		return fmt.Errorf("schedule.limit must be <= 500, got %d", c.Schedule.Limit)
	}
	if c.Schedule.MinScore < 0 {
		return fmt.Errorf("schedule.min_score must be >= 0, got %d", c.Schedule.MinScore)
	}
	if c.Fetch.MaxConcurrent > 64 {
		return fmt.Errorf("fetch.max_concurrent must be <= 64, got %d", c.Fetch.MaxConcurrent)
	}
	return nil
}
