// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

/*
ingestor.go - Push event-stream ingestor

Owns the lifecycle of the backend event stream: connect, consume,
reconnect with exponential backoff. The stream itself never reconnects;
a failed Next surfaces here and the ingestor dials again. Backends
without push support end the ingestor cleanly and the poller carries
the load alone.
*/

package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sessionwatch/sessionwatch/internal/config"
	"github.com/sessionwatch/sessionwatch/internal/connector"
	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/metrics"
	"github.com/sessionwatch/sessionwatch/internal/reconciler"
)

// Ingestor drives the push intake path.
type Ingestor struct {
	conn    connector.Connector
	policy  *config.PolicyHolder
	applier Applier

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewIngestor creates an ingestor feeding observations to the applier.
func NewIngestor(conn connector.Connector, policy *config.PolicyHolder, applier Applier) *Ingestor {
	return &Ingestor{
		conn:    conn,
		policy:  policy,
		applier: applier,
	}
}

// Start begins the connect-and-consume loop.
func (i *Ingestor) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return nil
	}
	i.running = true
	ctx, i.cancel = context.WithCancel(ctx)
	i.mu.Unlock()

	i.wg.Add(1)
	go i.run(ctx)

	return nil
}

// Stop tears down the stream and waits for the loop to exit.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	i.running = false
	i.cancel()
	i.mu.Unlock()

	i.wg.Wait()
	logging.Info().Msg("Push ingestor stopped")
}

func (i *Ingestor) run(ctx context.Context) {
	defer i.wg.Done()
	defer metrics.PushConnected.Set(0)

	backoff := i.policy.Load().ReconnectMin

	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := i.conn.OpenEventStream(ctx)
		if errors.Is(err, connector.ErrStreamUnsupported) {
			logging.Info().Str("backend", i.conn.Name()).
				Msg("Backend has no event stream, running poll-only")
			return
		}
		if err != nil {
			logging.Warn().Err(err).Dur("backoff", backoff).
				Msg("Event stream connect failed")
			if !i.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, i.policy.Load().ReconnectMax)
			metrics.PushReconnects.Inc()
			continue
		}

		logging.Info().Str("backend", i.conn.Name()).Msg("Event stream connected")
		metrics.PushConnected.Set(1)
		backoff = i.policy.Load().ReconnectMin

		i.consume(ctx, stream)

		metrics.PushConnected.Set(0)
		if ctx.Err() != nil {
			return
		}
		metrics.PushReconnects.Inc()
		if !i.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, i.policy.Load().ReconnectMax)
	}
}

// consume reads batches until the stream fails or the context ends.
func (i *Ingestor) consume(ctx context.Context, stream connector.EventStream) {
	defer stream.Close()

	for {
		batch, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logging.Warn().Err(err).Msg("Event stream lost")
			}
			return
		}
		for _, snap := range batch {
			i.applier.Apply(toObservation(snap, reconciler.SourcePush))
		}
	}
}

func (i *Ingestor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
