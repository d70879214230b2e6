// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package connector

import (
	"context"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/metrics"
)

// BreakerConnector wraps a Connector with a circuit breaker so a dead or
// struggling backend stops consuming request budget. The breaker uses
// real time for its interval and timeout; tests exercise the wrapped
// connector directly.
type BreakerConnector struct {
	inner Connector
	cb    *gobreaker.CircuitBreaker[any]
	name  string
}

var _ Connector = (*BreakerConnector)(nil)

// NewBreakerConnector wraps inner with a circuit breaker.
// Breaker configuration:
//   - Max 3 requests in half-open state
//   - 1 minute measurement window
//   - 2 minute timeout before recovery attempts
//   - Opens at >= 60% failure rate with minimum 10 requests
func NewBreakerConnector(inner Connector) *BreakerConnector {
	name := inner.Name() + "-api"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("Opening connector circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", breakerStateString(from)).
				Str("to", breakerStateString(to)).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
		},
		IsSuccessful: func(err error) bool {
			// Only backend health failures count against the breaker;
			// not-found and malformed responses are request-level noise.
			if err == nil {
				return true
			}
			kind, ok := KindOf(err)
			if !ok {
				return false
			}
			return kind == KindNotFound || kind == KindMalformed
		},
	})

	return &BreakerConnector{inner: inner, cb: cb, name: name}
}

// Name implements Connector.
func (b *BreakerConnector) Name() string { return b.inner.Name() }

// Ping implements Connector.
func (b *BreakerConnector) Ping(ctx context.Context) error {
	_, err := b.execute("ping", func() (any, error) {
		return nil, b.inner.Ping(ctx)
	})
	return err
}

// ServerInfo implements Connector.
func (b *BreakerConnector) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	return castResult[ServerInfo](b.execute("server_info", func() (any, error) {
		return b.inner.ServerInfo(ctx)
	}))
}

// ListActiveSessions implements Connector.
func (b *BreakerConnector) ListActiveSessions(ctx context.Context) ([]SessionSnapshot, error) {
	result, err := b.execute("sessions", func() (any, error) {
		return b.inner.ListActiveSessions(ctx)
	})
	if err != nil {
		return nil, err
	}
	snapshots, ok := result.([]SessionSnapshot)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return snapshots, nil
}

// GetItemMetadata implements Connector.
func (b *BreakerConnector) GetItemMetadata(ctx context.Context, itemID string) (*ItemMetadata, error) {
	return castResult[ItemMetadata](b.execute("item", func() (any, error) {
		return b.inner.GetItemMetadata(ctx, itemID)
	}))
}

// OpenEventStream implements Connector. The stream has its own failure
// handling; it bypasses the breaker.
func (b *BreakerConnector) OpenEventStream(ctx context.Context) (EventStream, error) {
	return b.inner.OpenEventStream(ctx)
}

// SendCommand implements Connector.
func (b *BreakerConnector) SendCommand(ctx context.Context, sessionKey string, cmd Command) error {
	_, err := b.execute("command", func() (any, error) {
		return nil, b.inner.SendCommand(ctx, sessionKey, cmd)
	})
	return err
}

// execute runs fn under the breaker, mapping open-circuit rejections to
// an unreachable connector error so callers see one taxonomy.
func (b *BreakerConnector) execute(op string, fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		logging.Warn().Err(err).Str("operation", op).Msg("Circuit breaker rejected request")
		return nil, newError(KindUnreachable, b.name+"."+op, err)
	}
	return result, err
}

// castResult type-asserts a breaker result to *T with error checking.
func castResult[T any](result any, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
