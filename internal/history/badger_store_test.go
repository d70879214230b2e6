// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db)
}

func testEntry(id, user, item string, started time.Time) *Entry {
	return &Entry{
		ID:             id,
		SessionKeys:    []string{"sess-" + id},
		UserID:         user,
		UserName:       "alice",
		ItemID:         item,
		ItemTitle:      "The Matrix",
		StartedAt:      started,
		StoppedAt:      started.Add(time.Hour),
		WatchedPercent: 42,
	}
}

func TestSaveAndLatest(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	if err := store.Save(ctx, testEntry("e1", "u1", "i1", base)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := store.Latest(ctx, "u1", "i1")
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if got.ID != "e1" {
		t.Errorf("Latest().ID = %q, want e1", got.ID)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, base)
	}
}

func TestLatestNotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.Latest(context.Background(), "u1", "i1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest() error = %v, want ErrNotFound", err)
	}
}

func TestLatestFollowsNewestSave(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	if err := store.Save(ctx, testEntry("e1", "u1", "i1", base)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := store.Save(ctx, testEntry("e2", "u1", "i1", base.Add(2*time.Hour))); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := store.Latest(ctx, "u1", "i1")
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if got.ID != "e2" {
		t.Errorf("Latest().ID = %q, want e2", got.ID)
	}
}

func TestSaveOverwritesMergedEntry(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	e := testEntry("e1", "u1", "i1", base)
	if err := store.Save(ctx, e); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	e.SessionKeys = append(e.SessionKeys, "sess-reconnect")
	e.WatchedPercent = 90
	if err := store.Save(ctx, e); err != nil {
		t.Fatalf("Save() after merge error: %v", err)
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (merge must overwrite)", len(entries))
	}
	if len(entries[0].SessionKeys) != 2 {
		t.Errorf("SessionKeys = %v, want 2 keys", entries[0].SessionKeys)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"e1", "e2", "e3"} {
		e := testEntry(id, "u1", "i"+id, base.Add(time.Duration(i)*time.Hour))
		if err := store.Save(ctx, e); err != nil {
			t.Fatalf("Save(%s) error: %v", id, err)
		}
	}

	entries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "e3" || entries[1].ID != "e2" {
		t.Errorf("Recent order = %s,%s, want e3,e2", entries[0].ID, entries[1].ID)
	}
}
