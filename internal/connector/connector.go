// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

// Package connector abstracts the remote media-server backend behind a
// small capability interface. Implementations normalize backend payloads
// into SessionSnapshot values and map every failure to an Error with one
// of five kinds, so nothing above this package ever sees vendor-specific
// fields or raw transport errors.
package connector

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// State is the normalized playback state of a session.
type State string

const (
	StateStarting  State = "starting"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateBuffering State = "buffering"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// Valid reports whether s is one of the normalized states.
func (s State) Valid() bool {
	switch s {
	case StateStarting, StatePlaying, StatePaused, StateBuffering, StateStopped, StateError:
		return true
	}
	return false
}

// Terminal reports whether s ends a session's lifecycle.
func (s State) Terminal() bool {
	return s == StateStopped
}

// Command is a playback command sent to a session.
type Command string

const (
	CommandStop    Command = "Stop"
	CommandPause   Command = "Pause"
	CommandUnpause Command = "Unpause"
)

// SessionSnapshot is the normalized view of one active playback session.
type SessionSnapshot struct {
	// SessionKey uniquely identifies the session on the backend.
	SessionKey string `json:"session_key"`

	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`

	ItemID    string `json:"item_id"`
	ItemTitle string `json:"item_title"`
	MediaType string `json:"media_type"`

	State State `json:"state"`

	// PositionMs and DurationMs are playback position and item runtime in
	// milliseconds. DurationMs is 0 when the backend does not report it.
	PositionMs int64 `json:"position_ms"`
	DurationMs int64 `json:"duration_ms"`

	Transcoding       bool   `json:"transcoding"`
	TranscodeDecision string `json:"transcode_decision,omitempty"`

	Client   string `json:"client,omitempty"`
	DeviceID string `json:"device_id,omitempty"`

	// CapturedAt is when this snapshot was taken, local clock.
	CapturedAt time.Time `json:"captured_at"`

	// Raw preserves the backend payload for diagnostics.
	Raw json.RawMessage `json:"-"`
}

// ItemMetadata describes a library item.
type ItemMetadata struct {
	ItemID     string `json:"item_id"`
	Title      string `json:"title"`
	MediaType  string `json:"media_type"`
	SeriesName string `json:"series_name,omitempty"`
	Season     int    `json:"season,omitempty"`
	Episode    int    `json:"episode,omitempty"`
	Year       int    `json:"year,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Overview   string `json:"overview,omitempty"`
}

// ServerInfo describes the backend server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	ID      string `json:"id"`
}

// ErrStreamUnsupported is returned by OpenEventStream when the backend
// has no push channel. Poll-only operation is a valid configuration and
// callers must detect this with errors.Is.
var ErrStreamUnsupported = errors.New("connector: event stream not supported")

// Connector is the capability interface to one media-server backend.
// All methods return either normalized values or an *Error.
type Connector interface {
	// Name identifies the backend implementation, e.g. "emby".
	Name() string

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// ServerInfo fetches server identity information.
	ServerInfo(ctx context.Context) (*ServerInfo, error)

	// ListActiveSessions returns a snapshot of sessions with active
	// playback. Sessions without a playing item are excluded.
	ListActiveSessions(ctx context.Context) ([]SessionSnapshot, error)

	// GetItemMetadata fetches metadata for a library item.
	GetItemMetadata(ctx context.Context, itemID string) (*ItemMetadata, error)

	// OpenEventStream opens the push channel. Returns ErrStreamUnsupported
	// when the backend cannot push; the caller then runs poll-only.
	OpenEventStream(ctx context.Context) (EventStream, error)

	// SendCommand issues a playback command to a session.
	SendCommand(ctx context.Context, sessionKey string, cmd Command) error
}

// EventStream is one push connection to the backend. It does not
// reconnect; when Next returns an error the stream is dead and the
// caller decides whether to open a new one.
type EventStream interface {
	// Next blocks until the next batch of session snapshots arrives,
	// the stream fails, or ctx is done.
	Next(ctx context.Context) ([]SessionSnapshot, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}
