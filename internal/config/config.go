// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

// Package config loads and validates Sessionwatch configuration from
// layered sources via koanf: defaults, a YAML file, then a fixed set of
// environment variables (EMBY_URL, POLL_INTERVAL, ...; the mapping
// lives in envTransformFunc, and only SESSIONWATCH_CONFIG carries the
// project prefix). The hot-reloadable tuning subset is published
// through a PolicyHolder.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for Sessionwatch.
type Config struct {
	Backend  BackendConfig  `koanf:"backend"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	History  HistoryConfig  `koanf:"history"`
	Notify   NotifyConfig   `koanf:"notify"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// BackendConfig configures the media-server backend connection.
type BackendConfig struct {
	// Type selects the backend connector implementation.
	Type string `koanf:"type" validate:"required,oneof=emby"`

	// URL is the base URL of the media server, e.g. http://emby:8096.
	URL string `koanf:"url" validate:"required,url"`

	// APIKey authenticates against the backend API.
	APIKey string `koanf:"api_key" validate:"required"`

	// Timeout bounds individual backend requests.
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is the maximum outbound request rate per second.
	// Zero disables rate limiting.
	RateLimit float64 `koanf:"rate_limit"`

	// RateBurst is the rate limiter burst size.
	RateBurst int `koanf:"rate_burst"`

	// RetryAttempts is the maximum retry count for transient errors.
	RetryAttempts int `koanf:"retry_attempts"`

	// RetryDelay is the initial backoff delay between retries.
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// PipelineConfig tunes the poll/push intake and the reconciler.
// All fields except Shards are hot-reloadable through the Policy subset.
type PipelineConfig struct {
	// PollInterval is the session polling interval.
	PollInterval time.Duration `koanf:"poll_interval"`

	// DebounceTicks is the number of consecutive polls a session must be
	// absent from before a stop observation is emitted.
	DebounceTicks int `koanf:"debounce_ticks"`

	// FailureThreshold is the number of consecutive poll failures after
	// which poll-only sessions are flushed as stopped.
	FailureThreshold int `koanf:"failure_threshold"`

	// ReconnectMin and ReconnectMax bound the push stream reconnect backoff.
	ReconnectMin time.Duration `koanf:"reconnect_min"`
	ReconnectMax time.Duration `koanf:"reconnect_max"`

	// GracePeriod is how long a live session may go unobserved before the
	// reconciler flushes it as stopped.
	GracePeriod time.Duration `koanf:"grace_period"`

	// Shards is the number of reconciler shard actors.
	Shards int `koanf:"shards" validate:"min=1,max=256"`
}

// HistoryConfig configures the durable watch-history store and grouper.
type HistoryConfig struct {
	// Path is the Badger database directory.
	Path string `koanf:"path"`

	// InMemory runs the store without disk persistence. Test use only.
	InMemory bool `koanf:"in_memory"`

	// MergeGap is the maximum gap between a stop and a subsequent start of
	// the same user+item for the two sessions to merge into one entry.
	MergeGap time.Duration `koanf:"merge_gap"`

	// RetryDelay is the initial backoff between write retries; RetryMax
	// is how many failed attempts pass before the outage escalates from
	// warn to error logging. Entries are retried until the store
	// recovers, never dropped while the process runs.
	RetryDelay time.Duration `koanf:"retry_delay"`
	RetryMax   int           `koanf:"retry_max"`
}

// NotifyConfig configures the notification dispatcher and its handlers.
type NotifyConfig struct {
	// QueueSize is the bounded dispatch queue capacity.
	QueueSize int `koanf:"queue_size" validate:"min=1"`

	// WatchedThreshold is the watched-percent at or above which a stop
	// also emits an on_watched notification.
	WatchedThreshold float64 `koanf:"watched_threshold" validate:"min=0,max=100"`

	// WebhookURL enables the webhook handler when non-empty.
	WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`

	// WebhookTimeout bounds each webhook POST.
	WebhookTimeout time.Duration `koanf:"webhook_timeout"`
}

// ServerConfig configures the status API HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Type:          "emby",
			Timeout:       30 * time.Second,
			RateLimit:     10,
			RateBurst:     5,
			RetryAttempts: 3,
			RetryDelay:    500 * time.Millisecond,
		},
		Pipeline: PipelineConfig{
			PollInterval:     5 * time.Second,
			DebounceTicks:    1,
			FailureThreshold: 6,
			ReconnectMin:     1 * time.Second,
			ReconnectMax:     60 * time.Second,
			GracePeriod:      90 * time.Second,
			Shards:           8,
		},
		History: HistoryConfig{
			Path:       "/data/sessionwatch/history",
			MergeGap:   30 * time.Second,
			RetryDelay: 1 * time.Second,
			RetryMax:   5,
		},
		Notify: NotifyConfig{
			QueueSize:        256,
			WatchedThreshold: 85,
			WebhookTimeout:   10 * time.Second,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8181,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Pipeline.PollInterval < time.Second {
		return fmt.Errorf("pipeline.poll_interval must be at least 1s, got %s", c.Pipeline.PollInterval)
	}
	if c.Pipeline.ReconnectMin <= 0 || c.Pipeline.ReconnectMax < c.Pipeline.ReconnectMin {
		return fmt.Errorf("pipeline reconnect bounds invalid: min=%s max=%s",
			c.Pipeline.ReconnectMin, c.Pipeline.ReconnectMax)
	}
	if c.Pipeline.DebounceTicks < 0 {
		return fmt.Errorf("pipeline.debounce_ticks must not be negative, got %d", c.Pipeline.DebounceTicks)
	}
	if c.History.MergeGap < 0 {
		return fmt.Errorf("history.merge_gap must not be negative, got %s", c.History.MergeGap)
	}
	return nil
}

// Policy extracts the hot-reloadable tuning subset.
func (c *Config) Policy() Policy {
	return Policy{
		PollInterval:     c.Pipeline.PollInterval,
		DebounceTicks:    c.Pipeline.DebounceTicks,
		FailureThreshold: c.Pipeline.FailureThreshold,
		ReconnectMin:     c.Pipeline.ReconnectMin,
		ReconnectMax:     c.Pipeline.ReconnectMax,
		GracePeriod:      c.Pipeline.GracePeriod,
		MergeGap:         c.History.MergeGap,
		WatchedThreshold: c.Notify.WatchedThreshold,
	}
}
