// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/metrics"
)

// Retrier wraps a Connector and retries transient failures (unreachable,
// timeout) with exponential backoff. Unauthorized and not-found errors
// are never retried. Read operations only: commands and stream opens
// pass through, their callers own the retry decision.
type Retrier struct {
	inner    Connector
	attempts int
	delay    time.Duration
}

var _ Connector = (*Retrier)(nil)

// NewRetrier wraps inner with retry behavior. attempts is the total try
// count (minimum 1); delay is the initial backoff, doubled per retry.
func NewRetrier(inner Connector, attempts int, delay time.Duration) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Retrier{inner: inner, attempts: attempts, delay: delay}
}

// Name implements Connector.
func (r *Retrier) Name() string { return r.inner.Name() }

// Ping implements Connector.
func (r *Retrier) Ping(ctx context.Context) error {
	return r.retry(ctx, "ping", func() error {
		return r.inner.Ping(ctx)
	})
}

// ServerInfo implements Connector.
func (r *Retrier) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info *ServerInfo
	err := r.retry(ctx, "server_info", func() error {
		var err error
		info, err = r.inner.ServerInfo(ctx)
		return err
	})
	return info, err
}

// ListActiveSessions implements Connector.
func (r *Retrier) ListActiveSessions(ctx context.Context) ([]SessionSnapshot, error) {
	var snapshots []SessionSnapshot
	err := r.retry(ctx, "sessions", func() error {
		var err error
		snapshots, err = r.inner.ListActiveSessions(ctx)
		return err
	})
	return snapshots, err
}

// GetItemMetadata implements Connector.
func (r *Retrier) GetItemMetadata(ctx context.Context, itemID string) (*ItemMetadata, error) {
	var item *ItemMetadata
	err := r.retry(ctx, "item", func() error {
		var err error
		item, err = r.inner.GetItemMetadata(ctx, itemID)
		return err
	})
	return item, err
}

// OpenEventStream implements Connector. Not retried; the ingestor owns
// reconnect backoff.
func (r *Retrier) OpenEventStream(ctx context.Context) (EventStream, error) {
	return r.inner.OpenEventStream(ctx)
}

// SendCommand implements Connector. Not retried to avoid duplicate
// command delivery.
func (r *Retrier) SendCommand(ctx context.Context, sessionKey string, cmd Command) error {
	return r.inner.SendCommand(ctx, sessionKey, cmd)
}

// retry executes fn with exponential backoff on transient errors.
// Backoff waits are cancellable through ctx.
func (r *Retrier) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := r.delay

	for attempt := 0; attempt < r.attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}

		if attempt < r.attempts-1 {
			metrics.ConnectorRetries.WithLabelValues(op).Inc()
			logging.Warn().Err(err).
				Str("operation", op).
				Int("attempt", attempt+1).
				Int("max_attempts", r.attempts).
				Dur("delay", delay).
				Msg("Retrying connector call")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}
