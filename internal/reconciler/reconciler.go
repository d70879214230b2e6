// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

/*
reconciler.go - Sharded session reconciler

Observations are routed to a fixed shard by session key hash, and each
shard runs a single goroutine that owns its session table. That gives
per-key serialization without a global lock; snapshots take a short
read lock per shard.
*/

package reconciler

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sessionwatch/sessionwatch/internal/config"
	"github.com/sessionwatch/sessionwatch/internal/connector"
	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/metrics"
)

const (
	shardObsBuffer  = 64
	shardTaskBuffer = 8

	// sweepInterval bounds how late a grace flush can be relative to
	// the configured grace period.
	defaultSweepInterval = 5 * time.Second
)

// Sink receives lifecycle events from the reconciler. Sinks are called
// from shard goroutines and must not block; consumers queue internally.
type Sink func(Event)

// Reconciler merges observations into live sessions and emits one
// lifecycle event per accepted state change.
type Reconciler struct {
	policy *config.PolicyHolder
	shards []*shard
	sinks  []Sink

	sweepInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type shard struct {
	r *Reconciler

	mu       sync.RWMutex
	sessions map[string]*Session

	obs   chan Observation
	tasks chan func(*shard)
}

// New builds a reconciler with the given shard count. Sinks receive
// every emitted lifecycle event, in per-session order.
func New(shardCount int, policy *config.PolicyHolder, sinks ...Sink) *Reconciler {
	if shardCount < 1 {
		shardCount = 1
	}
	r := &Reconciler{
		policy:        policy,
		sinks:         sinks,
		sweepInterval: defaultSweepInterval,
		stopCh:        make(chan struct{}),
	}
	r.shards = make([]*shard, shardCount)
	for i := range r.shards {
		r.shards[i] = &shard{
			r:        r,
			sessions: make(map[string]*Session),
			obs:      make(chan Observation, shardObsBuffer),
			tasks:    make(chan func(*shard), shardTaskBuffer),
		}
	}
	return r
}

// Start launches the shard actors and the grace sweeper.
func (r *Reconciler) Start() {
	for _, sh := range r.shards {
		r.wg.Add(1)
		go func(sh *shard) {
			defer r.wg.Done()
			sh.run()
		}(sh)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sweepLoop()
	}()
	logging.Info().Int("shards", len(r.shards)).Msg("Reconciler started")
}

// Stop flushes every live session as stopped and waits for the shard
// actors to exit. Safe to call more than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// Apply routes one observation to its shard. Returns without applying
// if the reconciler is stopping.
func (r *Reconciler) Apply(obs Observation) {
	sh := r.shards[r.shardIndex(obs.SessionKey)]
	select {
	case sh.obs <- obs:
	case <-r.stopCh:
	}
}

// FlushPollOnly flushes every live session that has never been
// confirmed by the push channel. Called when polling has failed past
// the failure threshold: poll-only sessions can no longer be trusted
// to still exist.
func (r *Reconciler) FlushPollOnly(note string) {
	for _, sh := range r.shards {
		task := func(sh *shard) {
			sh.flushMatching(func(s *Session) bool { return !s.SeenPush }, CausePollLoss, note)
		}
		select {
		case sh.tasks <- task:
		case <-r.stopCh:
			return
		}
	}
}

// Snapshot returns copies of all live sessions, ordered by session key.
func (r *Reconciler) Snapshot() []Session {
	var out []Session
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			out = append(out, *s)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionKey < out[j].SessionKey })
	return out
}

func (r *Reconciler) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(r.shards)))
}

func (r *Reconciler) emit(events []Event) {
	for _, ev := range events {
		for _, sink := range r.sinks {
			sink(ev)
		}
	}
}

func (r *Reconciler) sweepLoop() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			grace := r.policy.Load().GracePeriod
			cutoff := time.Now().Add(-grace)
			for _, sh := range r.shards {
				task := func(sh *shard) {
					sh.flushMatching(func(s *Session) bool {
						return s.LastSeen.Before(cutoff)
					}, CauseGrace, "unseen past grace period")
				}
				select {
				case sh.tasks <- task:
				case <-r.stopCh:
					return
				}
			}
		}
	}
}

func (sh *shard) run() {
	for {
		select {
		case obs := <-sh.obs:
			sh.r.emit(sh.apply(obs))
		case task := <-sh.tasks:
			task(sh)
		case <-sh.r.stopCh:
			sh.flushMatching(func(*Session) bool { return true }, CauseShutdown, "")
			return
		}
	}
}

// apply merges one observation into the shard's session table and
// returns the lifecycle events to emit, usually zero or one.
func (sh *shard) apply(obs Observation) []Event {
	if obs.SessionKey == "" || !obs.State.Valid() {
		metrics.ObservationsDropped.WithLabelValues("malformed").Inc()
		logging.Warn().
			Str("session_key", obs.SessionKey).
			Str("state", string(obs.State)).
			Msg("Dropping malformed observation")
		return nil
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, live := sh.sessions[obs.SessionKey]
	if !live {
		return sh.startSession(obs)
	}

	if obs.Revision < s.Revision {
		metrics.ObservationsDropped.WithLabelValues("stale").Inc()
		return nil
	}
	if obs.Revision == s.Revision && obs.Source == SourcePoll {
		// Push observations at the same revision remain authoritative;
		// a poll may only refresh a state it agrees with.
		if obs.State != s.State {
			metrics.ObservationsDropped.WithLabelValues("conflict").Inc()
			return nil
		}
		sh.refresh(s, obs)
		return nil
	}

	if obs.State == s.State {
		sh.refresh(s, obs)
		return nil
	}

	if !legalTransition(s.State, obs.State) {
		metrics.ObservationsDropped.WithLabelValues("illegal_transition").Inc()
		logging.Warn().
			Str("session_key", obs.SessionKey).
			Str("from", string(s.State)).
			Str("to", string(obs.State)).
			Str("source", string(obs.Source)).
			Msg("Dropping illegal state transition")
		return nil
	}

	return sh.transition(s, obs)
}

// startSession begins a new logical session for an unknown key. A stop
// or error for an unknown key refers to a session already flushed and
// is dropped.
func (sh *shard) startSession(obs Observation) []Event {
	if obs.State == connector.StateStopped || obs.State == connector.StateError {
		metrics.ObservationsDropped.WithLabelValues("stale").Inc()
		return nil
	}

	s := &Session{
		SessionKey:        obs.SessionKey,
		UserID:            obs.UserID,
		UserName:          obs.UserName,
		ItemID:            obs.ItemID,
		ItemTitle:         obs.ItemTitle,
		MediaType:         obs.MediaType,
		State:             connector.StateStarting,
		PositionMs:        obs.PositionMs,
		DurationMs:        obs.DurationMs,
		Transcoding:       obs.Transcoding,
		TranscodeDecision: obs.TranscodeDecision,
		Revision:          obs.Revision,
		StartedAt:         obs.ObservedAt,
		LastStateChange:   obs.ObservedAt,
		LastSeen:          obs.ObservedAt,
		SeenPush:          obs.Source == SourcePush,
		Note:              obs.Note,
	}
	sh.sessions[obs.SessionKey] = s
	metrics.SessionsLive.Inc()
	metrics.ObservationsAccepted.WithLabelValues(string(obs.Source)).Inc()

	if obs.State == connector.StateStarting {
		return nil
	}
	return sh.transitionState(s, obs.State, obs.ObservedAt, CauseObservation)
}

// refresh absorbs an observation that changes no state: position,
// liveness, and bookkeeping advance without an event.
func (sh *shard) refresh(s *Session, obs Observation) {
	s.PositionMs = obs.PositionMs
	if obs.DurationMs > 0 {
		s.DurationMs = obs.DurationMs
	}
	s.Transcoding = obs.Transcoding
	if obs.TranscodeDecision != "" {
		s.TranscodeDecision = obs.TranscodeDecision
	}
	if obs.Revision > s.Revision {
		s.Revision = obs.Revision
	}
	s.LastSeen = obs.ObservedAt
	if obs.Source == SourcePush {
		s.SeenPush = true
	}
	metrics.ObservationsAccepted.WithLabelValues(string(obs.Source)).Inc()
}

// transition applies an accepted state-changing observation.
func (sh *shard) transition(s *Session, obs Observation) []Event {
	s.PositionMs = obs.PositionMs
	if obs.DurationMs > 0 {
		s.DurationMs = obs.DurationMs
	}
	s.Transcoding = obs.Transcoding
	if obs.TranscodeDecision != "" {
		s.TranscodeDecision = obs.TranscodeDecision
	}
	s.Revision = obs.Revision
	if obs.Source == SourcePush {
		s.SeenPush = true
	}
	if obs.Note != "" {
		s.Note = obs.Note
	}
	metrics.ObservationsAccepted.WithLabelValues(string(obs.Source)).Inc()

	return sh.transitionState(s, obs.State, obs.ObservedAt, CauseObservation)
}

// transitionState moves a session to a new state, settles paused-time
// accounting, and flushes it if the new state is stopped. Callers hold
// the shard lock.
func (sh *shard) transitionState(s *Session, to connector.State, at time.Time, cause Cause) []Event {
	from := s.State

	if from == connector.StatePaused && !s.pausedSince.IsZero() {
		s.PausedMs += at.Sub(s.pausedSince).Milliseconds()
		s.pausedSince = time.Time{}
	}
	if to == connector.StatePaused {
		s.pausedSince = at
	}

	s.State = to
	s.LastStateChange = at
	s.LastSeen = at

	if to == connector.StateStopped {
		delete(sh.sessions, s.SessionKey)
		metrics.SessionsLive.Dec()
		metrics.SessionsFlushed.WithLabelValues(flushLabel(cause)).Inc()
	}

	return []Event{{
		ID:             uuid.NewString(),
		SessionKey:     s.SessionKey,
		From:           from,
		To:             to,
		Timestamp:      at,
		Cause:          cause,
		Session:        *s,
		WatchedPercent: s.WatchedPercent(),
	}}
}

// flushMatching force-stops every live session the predicate selects.
func (sh *shard) flushMatching(match func(*Session) bool, cause Cause, note string) {
	now := time.Now()

	sh.mu.Lock()
	var events []Event
	for _, s := range sh.sessions {
		if !match(s) {
			continue
		}
		if note != "" {
			s.Note = note
		}
		events = append(events, sh.transitionState(s, connector.StateStopped, now, cause)...)
	}
	sh.mu.Unlock()

	for _, ev := range events {
		logging.Debug().
			Str("session_key", ev.SessionKey).
			Str("cause", string(cause)).
			Msg("Flushed session")
	}
	sh.r.emit(events)
}

func flushLabel(cause Cause) string {
	if cause == CauseObservation {
		return "stopped"
	}
	return string(cause)
}
