// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

// Package history persists finished sessions as watch-history entries.
// A writer consumes lifecycle stop events and groups near-adjacent
// sessions of the same user and item into one logical entry, absorbing
// client reconnects that produce fresh session keys.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no entry matches a lookup.
var ErrNotFound = errors.New("history: entry not found")

// Entry is one logical watch of an item by a user. Several backend
// sessions may collapse into a single entry when they stop and restart
// within the merge gap.
type Entry struct {
	ID string `json:"id"`

	// SessionKeys lists every backend session merged into this entry,
	// in arrival order.
	SessionKeys []string `json:"session_keys"`

	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ItemID    string `json:"item_id"`
	ItemTitle string `json:"item_title"`
	MediaType string `json:"media_type,omitempty"`

	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`

	PausedMs       int64   `json:"paused_ms"`
	WatchedPercent float64 `json:"watched_percent"`

	Note string `json:"note,omitempty"`
}

// Store persists history entries. Implementations must make Save
// atomic: an entry and its lookup index change together or not at all.
type Store interface {
	// Save upserts an entry. The entry's identity (ID, StartedAt) is
	// stable across merges, so saving a merged entry overwrites it.
	Save(ctx context.Context, e *Entry) error

	// Latest returns the most recent entry for a user and item, or
	// ErrNotFound.
	Latest(ctx context.Context, userID, itemID string) (*Entry, error)

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}
