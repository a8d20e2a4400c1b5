// Package config loads deployment settings from a TOML file, mirroring
// internal/config/loader.go's two-struct shape: a TOMLConfig decoding
// surface with string-typed durations, converted into a Config with real
// time.Duration fields. Library-specific wiring (which rate limiter, which
// storage backend) stays the caller's job — this package only owns the
// scalar settings that shape heromessaging.PipelineConfig, outbox.Config and
// inbox.Config.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/inbox"
	"github.com/heromessaging/hero-messaging/internal/outbox"
	"github.com/heromessaging/hero-messaging/internal/pipeline"
)

// TOMLConfig is the on-disk shape of a hero-messaging config file.
type TOMLConfig struct {
	RateLimit      TOMLRateLimitConfig      `toml:"rate_limit"`
	CircuitBreaker TOMLCircuitBreakerConfig `toml:"circuit_breaker"`
	Retry          TOMLRetryConfig          `toml:"retry"`
	Idempotency    TOMLIdempotencyConfig    `toml:"idempotency"`
	Batch          TOMLBatchConfig          `toml:"batch"`
	Outbox         TOMLOutboxConfig         `toml:"outbox"`
	Inbox          TOMLInboxConfig          `toml:"inbox"`
	Leader         TOMLLeaderConfig         `toml:"leader"`
	Metrics        TOMLMetricsConfig        `toml:"metrics"`
}

type TOMLRateLimitConfig struct {
	Type          string `toml:"type"` // "inproc" or "redis"
	PermitsPerMin int    `toml:"permits_per_minute"`
	Window        string `toml:"window"`
}

type TOMLCircuitBreakerConfig struct {
	Enabled              bool    `toml:"enabled"`
	FailureThreshold     int     `toml:"failure_threshold"`
	MinimumThroughput    int     `toml:"minimum_throughput"`
	FailureRateThreshold float64 `toml:"failure_rate_threshold"`
	SamplingDuration     string  `toml:"sampling_duration"`
	BreakDuration        string  `toml:"break_duration"`
}

type TOMLRetryConfig struct {
	MaxRetries   int     `toml:"max_retries"`
	BaseDelay    string  `toml:"base_delay"`
	MaxDelay     string  `toml:"max_delay"`
	JitterFactor float64 `toml:"jitter_factor"`
}

type TOMLIdempotencyConfig struct {
	Enabled bool   `toml:"enabled"`
	TTL     string `toml:"ttl"`
}

type TOMLBatchConfig struct {
	Enabled                        bool   `toml:"enabled"`
	MaxBatchSize                   int    `toml:"max_batch_size"`
	MinBatchSize                   int    `toml:"min_batch_size"`
	BatchTimeout                   string `toml:"batch_timeout"`
	MaxDegreeOfParallelism         int    `toml:"max_degree_of_parallelism"`
	ContinueOnFailure              bool   `toml:"continue_on_failure"`
	FallbackToIndividualProcessing bool   `toml:"fallback_to_individual_processing"`
}

type TOMLOutboxConfig struct {
	BatchSize        int    `toml:"batch_size"`
	MaxAttempts      int    `toml:"max_attempts"`
	FastPollInterval string `toml:"fast_poll_interval"`
	SlowPollInterval string `toml:"slow_poll_interval"`
	RecoveryInterval string `toml:"recovery_interval"`
	StuckThreshold   string `toml:"stuck_threshold"`
	RetentionWindow  string `toml:"retention_window"`
	Concurrency      int    `toml:"concurrency"`
}

type TOMLInboxConfig struct {
	BatchSize        int    `toml:"batch_size"`
	FastPollInterval string `toml:"fast_poll_interval"`
	SlowPollInterval string `toml:"slow_poll_interval"`
	RetentionWindow  string `toml:"retention_window"`
}

type TOMLLeaderConfig struct {
	Enabled         bool   `toml:"enabled"`
	InstanceID      string `toml:"instance_id"`
	LockName        string `toml:"lock_name"`
	TTL             string `toml:"ttl"`
	RefreshInterval string `toml:"refresh_interval"`
}

type TOMLMetricsConfig struct {
	Namespace string `toml:"namespace"`
}

// Config is the runtime-typed settings derived from a TOMLConfig.
type Config struct {
	RateLimit      RateLimitConfig
	CircuitBreaker pipeline.CircuitBreakerConfig
	CircuitBreakerEnabled bool
	Retry          heromessaging.RetryConfig
	Idempotency    heromessaging.IdempotencyConfig
	Batch          pipeline.BatchConfig
	Outbox         outbox.Config
	Inbox          inbox.Config
	Leader         LeaderConfig
	MetricsNamespace string
}

type RateLimitConfig struct {
	Type          string
	PermitsPerMin int
	Window        time.Duration
}

type LeaderConfig struct {
	Enabled         bool
	InstanceID      string
	LockName        string
	TTL             time.Duration
	RefreshInterval time.Duration
}

// LoadFromFile parses a TOML config file into Config, applying
// heromessaging's own defaults for numeric and duration settings the file
// leaves at their zero value. Boolean settings take the file's value as is,
// so an omitted one is false even where the default is true.
func LoadFromFile(path string) (*Config, error) {
	var tc TOMLConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fromTOML(&tc), nil
}

func fromTOML(tc *TOMLConfig) *Config {
	defaults := heromessaging.DefaultPipelineConfig()
	outboxDefaults := outbox.DefaultConfig()
	inboxDefaults := inbox.DefaultConfig()

	cfg := &Config{
		RateLimit: RateLimitConfig{
			Type:          tc.RateLimit.Type,
			PermitsPerMin: tc.RateLimit.PermitsPerMin,
			Window:        parseDuration(tc.RateLimit.Window, 0),
		},
		CircuitBreakerEnabled: tc.CircuitBreaker.Enabled,
		CircuitBreaker: pipeline.CircuitBreakerConfig{
			FailureThreshold:     tc.CircuitBreaker.FailureThreshold,
			MinimumThroughput:    tc.CircuitBreaker.MinimumThroughput,
			FailureRateThreshold: tc.CircuitBreaker.FailureRateThreshold,
			SamplingDuration:     parseDuration(tc.CircuitBreaker.SamplingDuration, 0),
			BreakDuration:        parseDuration(tc.CircuitBreaker.BreakDuration, 0),
		},
		Retry: heromessaging.RetryConfig{
			MaxRetries:   tc.Retry.MaxRetries,
			BaseDelay:    parseDuration(tc.Retry.BaseDelay, defaults.Retry.BaseDelay),
			MaxDelay:     parseDuration(tc.Retry.MaxDelay, defaults.Retry.MaxDelay),
			JitterFactor: orDefault(tc.Retry.JitterFactor, defaults.Retry.JitterFactor),
		},
		Idempotency: heromessaging.IdempotencyConfig{
			Enabled: tc.Idempotency.Enabled,
			TTL:     parseDuration(tc.Idempotency.TTL, 24*time.Hour),
		},
		Batch: pipeline.BatchConfig{
			Enabled:                        tc.Batch.Enabled,
			MaxBatchSize:                   orDefaultInt(tc.Batch.MaxBatchSize, defaults.Batch.MaxBatchSize),
			MinBatchSize:                   orDefaultInt(tc.Batch.MinBatchSize, defaults.Batch.MinBatchSize),
			BatchTimeout:                   parseDuration(tc.Batch.BatchTimeout, defaults.Batch.BatchTimeout),
			MaxDegreeOfParallelism:         orDefaultInt(tc.Batch.MaxDegreeOfParallelism, defaults.Batch.MaxDegreeOfParallelism),
			ContinueOnFailure:              tc.Batch.ContinueOnFailure,
			FallbackToIndividualProcessing: tc.Batch.FallbackToIndividualProcessing,
		},
		Outbox: outbox.Config{
			BatchSize:        orDefaultInt(tc.Outbox.BatchSize, outboxDefaults.BatchSize),
			MaxAttempts:      orDefaultInt(tc.Outbox.MaxAttempts, outboxDefaults.MaxAttempts),
			FastPollInterval: parseDuration(tc.Outbox.FastPollInterval, outboxDefaults.FastPollInterval),
			SlowPollInterval: parseDuration(tc.Outbox.SlowPollInterval, outboxDefaults.SlowPollInterval),
			RecoveryInterval: parseDuration(tc.Outbox.RecoveryInterval, outboxDefaults.RecoveryInterval),
			StuckThreshold:   parseDuration(tc.Outbox.StuckThreshold, outboxDefaults.StuckThreshold),
			RetentionWindow:  parseDuration(tc.Outbox.RetentionWindow, outboxDefaults.RetentionWindow),
			Concurrency:      orDefaultInt(tc.Outbox.Concurrency, outboxDefaults.Concurrency),
		},
		Inbox: inbox.Config{
			BatchSize:        orDefaultInt(tc.Inbox.BatchSize, inboxDefaults.BatchSize),
			FastPollInterval: parseDuration(tc.Inbox.FastPollInterval, inboxDefaults.FastPollInterval),
			SlowPollInterval: parseDuration(tc.Inbox.SlowPollInterval, inboxDefaults.SlowPollInterval),
			RetentionWindow:  parseDuration(tc.Inbox.RetentionWindow, inboxDefaults.RetentionWindow),
		},
		Leader: LeaderConfig{
			Enabled:         tc.Leader.Enabled,
			InstanceID:      tc.Leader.InstanceID,
			LockName:        tc.Leader.LockName,
			TTL:             parseDuration(tc.Leader.TTL, 30*time.Second),
			RefreshInterval: parseDuration(tc.Leader.RefreshInterval, 10*time.Second),
		},
		MetricsNamespace: tc.Metrics.Namespace,
	}
	if cfg.MetricsNamespace == "" {
		cfg.MetricsNamespace = "heromessaging"
	}
	return cfg
}

// PipelineConfig builds a heromessaging.PipelineConfig from the scalar
// settings this package owns. The caller still supplies the interface-typed
// fields an adapter backs (RateLimiter, MetricsSink, Idempotency.Store,
// ErrorHandler, Transaction.Factory, Validators) since those require a
// concrete adapter the config file alone cannot name safely (e.g. a live
// Redis or Mongo connection).
func (c *Config) PipelineConfig() heromessaging.PipelineConfig {
	pc := heromessaging.DefaultPipelineConfig()
	pc.Retry = c.Retry
	pc.Idempotency = c.Idempotency
	pc.Batch = c.Batch
	if c.CircuitBreakerEnabled {
		pc.CircuitBreaker = c.CircuitBreaker
	}
	return pc
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func orDefault(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func orDefaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
