// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

/*
poller.go - Session poller

Periodically lists active sessions and diffs the result against the
previous tick. Present sessions become observations; sessions that
disappear for more than the debounce window become synthetic stops
carrying the last known position. Sustained fetch failures trigger a
poll-only flush in the reconciler, since sessions known only from
polling can no longer be confirmed.
*/

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sessionwatch/sessionwatch/internal/config"
	"github.com/sessionwatch/sessionwatch/internal/connector"
	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/metrics"
	"github.com/sessionwatch/sessionwatch/internal/reconciler"
)

// trackedSession remembers the last snapshot per key for debounced
// disappearance detection. Accessed only from the active poll.
type trackedSession struct {
	last   connector.SessionSnapshot
	misses int
}

// Poller drives the poll intake path.
type Poller struct {
	conn    connector.Connector
	policy  *config.PolicyHolder
	applier Applier

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// inFlight guards against overlapping polls when a fetch outlasts
	// the poll interval. The loser of the swap skips its tick.
	inFlight atomic.Bool

	// failures and tracked belong to the poll path; the inFlight gate
	// serializes access.
	failures int
	flushed  bool
	tracked  map[string]*trackedSession
}

// NewPoller creates a poller feeding observations to the applier.
func NewPoller(conn connector.Connector, policy *config.PolicyHolder, applier Applier) *Poller {
	return &Poller{
		conn:    conn,
		policy:  policy,
		applier: applier,
		tracked: make(map[string]*trackedSession),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	logging.Info().Dur("interval", p.policy.Load().PollInterval).Msg("Starting session poller")

	p.wg.Add(1)
	go p.pollLoop(ctx)

	return nil
}

// Stop stops the polling loop and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	logging.Info().Msg("Session poller stopped")
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	p.tick(ctx)

	interval := p.policy.Load().PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			if next := p.policy.Load().PollInterval; next != interval {
				interval = next
				ticker.Reset(interval)
				logging.Info().Dur("interval", interval).Msg("Poll interval updated")
			}
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		metrics.PollTicksSkipped.Inc()
		return
	}
	metrics.PollTicks.Inc()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		p.poll(ctx)
	}()
}

// poll fetches one session snapshot and diffs it against the last tick.
func (p *Poller) poll(ctx context.Context) {
	snapshots, err := p.conn.ListActiveSessions(ctx)
	if err != nil {
		p.pollFailed(err)
		return
	}

	if p.failures > 0 {
		logging.Info().Int("failures", p.failures).Msg("Poll channel recovered")
	}
	p.failures = 0
	p.flushed = false
	metrics.PollSessionsSeen.Set(float64(len(snapshots)))

	present := make(map[string]bool, len(snapshots))
	for _, snap := range snapshots {
		present[snap.SessionKey] = true
		p.applier.Apply(toObservation(snap, reconciler.SourcePoll))

		t, ok := p.tracked[snap.SessionKey]
		if !ok {
			t = &trackedSession{}
			p.tracked[snap.SessionKey] = t
		}
		t.last = snap
		t.misses = 0
	}

	debounce := p.policy.Load().DebounceTicks
	for key, t := range p.tracked {
		if present[key] {
			continue
		}
		t.misses++
		if t.misses <= debounce {
			continue
		}
		p.applier.Apply(syntheticStop(t.last))
		delete(p.tracked, key)
	}
}

func (p *Poller) pollFailed(err error) {
	p.failures++
	metrics.PollFailures.Inc()
	logging.Warn().Err(err).Int("failures", p.failures).Msg("Failed to fetch sessions")

	if p.failures >= p.policy.Load().FailureThreshold && !p.flushed {
		p.flushed = true
		logging.Error().Int("failures", p.failures).
			Msg("Poll failure threshold reached, flushing poll-only sessions")
		p.applier.FlushPollOnly("poll channel lost")
		p.tracked = make(map[string]*trackedSession)
	}
}

// syntheticStop builds the stop observation for a session that vanished
// from the poll snapshot. The last known position stands in for the
// final one, which the backend no longer reports.
func syntheticStop(last connector.SessionSnapshot) reconciler.Observation {
	now := time.Now()
	obs := toObservation(last, reconciler.SourcePoll)
	obs.State = connector.StateStopped
	obs.Revision = now.UnixMilli()
	obs.ObservedAt = now
	obs.Note = "missing from poll snapshot"
	return obs
}
