// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

// Package reconciler merges poll and push observations of the same
// backend sessions into one authoritative state machine per session key.
// Mutations for a given key are serialized by shard actors; different
// keys proceed in parallel. Conflicts are resolved by revision
// (last-writer-wins, push preferred on ties).
package reconciler

import (
	"time"

	"github.com/sessionwatch/sessionwatch/internal/connector"
)

// Source identifies which intake path produced an observation.
type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

// Observation is one dated claim about a session's state, normalized
// from either intake path.
type Observation struct {
	SessionKey string
	Source     Source

	State connector.State

	UserID    string
	UserName  string
	ItemID    string
	ItemTitle string
	MediaType string

	PositionMs int64
	DurationMs int64

	Transcoding       bool
	TranscodeDecision string

	// Revision orders observations of the same session across sources.
	// Capture time in Unix milliseconds.
	Revision int64

	ObservedAt time.Time

	// Note annotates synthetic observations, e.g. poll-loss stops.
	Note string
}

// Session is the authoritative live state for one session key.
// At most one live Session exists per key; a session leaves the live
// table only by being flushed (stopped), never silently.
type Session struct {
	SessionKey string `json:"session_key"`

	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ItemID    string `json:"item_id"`
	ItemTitle string `json:"item_title"`
	MediaType string `json:"media_type,omitempty"`

	State connector.State `json:"state"`

	PositionMs int64 `json:"position_ms"`
	DurationMs int64 `json:"duration_ms"`

	Transcoding       bool   `json:"transcoding"`
	TranscodeDecision string `json:"transcode_decision,omitempty"`

	Revision int64 `json:"revision"`

	StartedAt       time.Time `json:"started_at"`
	LastStateChange time.Time `json:"last_state_change"`
	LastSeen        time.Time `json:"last_seen"`

	// PausedMs accumulates total time spent paused, for history.
	PausedMs int64 `json:"paused_ms"`

	// pausedSince is set while the session sits in paused.
	pausedSince time.Time

	// SeenPush marks sessions confirmed by the push channel. Sessions
	// known only from polling are flushed when polling goes dark.
	SeenPush bool `json:"seen_push"`

	// Note carries diagnostic annotations into history.
	Note string `json:"note,omitempty"`
}

// WatchedPercent returns playback progress as a percentage, 0 when the
// duration is unknown.
func (s *Session) WatchedPercent() float64 {
	if s.DurationMs <= 0 {
		return 0
	}
	return float64(s.PositionMs) * 100 / float64(s.DurationMs)
}

// Cause describes why a lifecycle event was emitted.
type Cause string

const (
	// CauseObservation marks events driven by an accepted observation.
	CauseObservation Cause = "observation"

	// CauseGrace marks flushes of sessions unseen past the grace period.
	CauseGrace Cause = "grace"

	// CausePollLoss marks flushes after sustained poll failure for
	// sessions never confirmed by push.
	CausePollLoss Cause = "poll_loss"

	// CauseShutdown marks flushes during shutdown.
	CauseShutdown Cause = "shutdown"
)

// Event is one state transition of a live session. Events are ephemeral:
// consumers derive history entries and notifications from them but they
// are never persisted as-is.
type Event struct {
	ID         string          `json:"id"`
	SessionKey string          `json:"session_key"`
	From       connector.State `json:"from"`
	To         connector.State `json:"to"`
	Timestamp  time.Time       `json:"timestamp"`
	Cause      Cause           `json:"cause"`

	// Session is a copy of the session state after the transition.
	Session Session `json:"session"`

	WatchedPercent float64 `json:"watched_percent"`
}
