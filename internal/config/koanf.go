// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sessionwatch/config.yaml",
	"/etc/sessionwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "SESSIONWATCH_CONFIG"

// Load loads configuration using koanf with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	return loadFrom(FindConfigFile())
}

// LoadFile loads configuration with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	return loadFrom(path)
}

func loadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile searches for a config file in the default paths.
// Returns the first path found, or empty string if none exists.
func FindConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so unrelated environment noise never
// pollutes the configuration.
//
// Examples:
//   - EMBY_URL -> backend.url
//   - POLL_INTERVAL -> pipeline.poll_interval
//   - NOTIFY_WEBHOOK_URL -> notify.webhook_url
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Backend mappings (EMBY_* kept for drop-in compatibility with
		// existing deployments)
		"backend_type":           "backend.type",
		"emby_url":               "backend.url",
		"emby_api_key":           "backend.api_key",
		"emby_timeout":           "backend.timeout",
		"backend_url":            "backend.url",
		"backend_api_key":        "backend.api_key",
		"backend_timeout":        "backend.timeout",
		"backend_rate_limit":     "backend.rate_limit",
		"backend_rate_burst":     "backend.rate_burst",
		"backend_retry_attempts": "backend.retry_attempts",
		"backend_retry_delay":    "backend.retry_delay",

		// Pipeline mappings
		"poll_interval":          "pipeline.poll_interval",
		"poll_debounce_ticks":    "pipeline.debounce_ticks",
		"poll_failure_threshold": "pipeline.failure_threshold",
		"push_reconnect_min":     "pipeline.reconnect_min",
		"push_reconnect_max":     "pipeline.reconnect_max",
		"session_grace_period":   "pipeline.grace_period",
		"reconciler_shards":      "pipeline.shards",

		// History mappings
		"history_path":        "history.path",
		"history_in_memory":   "history.in_memory",
		"history_merge_gap":   "history.merge_gap",
		"history_retry_delay": "history.retry_delay",
		"history_retry_max":   "history.retry_max",

		// Notify mappings
		"notify_queue_size":        "notify.queue_size",
		"notify_watched_threshold": "notify.watched_threshold",
		"notify_webhook_url":       "notify.webhook_url",
		"notify_webhook_timeout":   "notify.webhook_timeout",

		// Server mappings
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// WatchConfigFile watches the config file and invokes callback on change.
// The callback typically re-runs Load and stores the new Policy into the
// PolicyHolder; running services pick the new values up on their next cycle.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
