// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

/*
writer.go - History writer

Consumes lifecycle events and turns stops into history entries. The
queue is unbounded so a slow or failing store never blocks the
reconciler; writes retry with exponential backoff until the store
recovers, escalating to an error log while the outage persists.
*/

package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sessionwatch/sessionwatch/internal/config"
	"github.com/sessionwatch/sessionwatch/internal/connector"
	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/metrics"
	"github.com/sessionwatch/sessionwatch/internal/reconciler"
)

// Writer groups stop events into history entries and persists them.
type Writer struct {
	store  Store
	policy *config.PolicyHolder

	retryDelay time.Duration
	retryMax   int

	mu      sync.Mutex
	pending []reconciler.Event
	wake    chan struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWriter creates a history writer on the given store.
func NewWriter(store Store, policy *config.PolicyHolder, cfg config.HistoryConfig) *Writer {
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	retryMax := cfg.RetryMax
	if retryMax < 1 {
		retryMax = 5
	}
	return &Writer{
		store:      store,
		policy:     policy,
		retryDelay: retryDelay,
		retryMax:   retryMax,
		wake:       make(chan struct{}, 1),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the write worker.
func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
}

// Stop drains the queue and waits for the worker to exit.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
}

// Enqueue accepts a lifecycle event. Non-stop transitions are ignored.
// Never blocks; safe to use as a reconciler sink.
func (w *Writer) Enqueue(ev reconciler.Event) {
	if ev.To != connector.StateStopped {
		return
	}

	w.mu.Lock()
	w.pending = append(w.pending, ev)
	depth := len(w.pending)
	w.mu.Unlock()

	metrics.HistoryQueueDepth.Set(float64(depth))
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) run() {
	for {
		batch := w.take()
		for _, ev := range batch {
			w.record(ev)
		}

		select {
		case <-w.wake:
		case <-w.stopChan:
			// Final drain; anything enqueued after this is lost with
			// the process anyway.
			for _, ev := range w.take() {
				w.record(ev)
			}
			return
		}
	}
}

func (w *Writer) take() []reconciler.Event {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	metrics.HistoryQueueDepth.Set(0)
	return batch
}

// record writes one stop event, merging it into the previous entry for
// the same user and item when the gap between them is small enough.
func (w *Writer) record(ev reconciler.Event) {
	ctx := context.Background()
	s := ev.Session

	gap := w.policy.Load().MergeGap
	prev, err := w.store.Latest(ctx, s.UserID, s.ItemID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		logging.Warn().Err(err).Msg("History merge lookup failed, inserting fresh entry")
		prev = nil
	}

	if prev != nil && gap > 0 && s.StartedAt.Sub(prev.StoppedAt) <= gap {
		prev.SessionKeys = append(prev.SessionKeys, s.SessionKey)
		prev.StoppedAt = ev.Timestamp
		prev.PausedMs += s.PausedMs
		if ev.WatchedPercent > prev.WatchedPercent {
			prev.WatchedPercent = ev.WatchedPercent
		}
		if s.Note != "" {
			prev.Note = s.Note
		}
		w.save(ctx, prev, "merge")
		return
	}

	w.save(ctx, &Entry{
		ID:             uuid.NewString(),
		SessionKeys:    []string{s.SessionKey},
		UserID:         s.UserID,
		UserName:       s.UserName,
		ItemID:         s.ItemID,
		ItemTitle:      s.ItemTitle,
		MediaType:      s.MediaType,
		StartedAt:      s.StartedAt,
		StoppedAt:      ev.Timestamp,
		PausedMs:       s.PausedMs,
		WatchedPercent: ev.WatchedPercent,
		Note:           s.Note,
	}, "insert")
}

// save retries until the store accepts the entry. Backoff doubles up
// to 60x the base delay; every retryMax failed attempts the outage is
// escalated to an error log so operators see it. Entries are only
// abandoned at shutdown, and that loss is logged.
func (w *Writer) save(ctx context.Context, e *Entry, kind string) {
	delay := w.retryDelay
	for attempt := 1; ; attempt++ {
		err := w.store.Save(ctx, e)
		if err == nil {
			metrics.HistoryWrites.WithLabelValues(kind).Inc()
			return
		}
		metrics.HistoryWriteRetries.Inc()
		if attempt%w.retryMax == 0 {
			logging.Error().Err(err).
				Str("entry_id", e.ID).
				Int("attempts", attempt).
				Msg("History store still failing, entry held for retry")
		} else {
			logging.Warn().Err(err).Int("attempt", attempt).Msg("History write failed, retrying")
		}

		select {
		case <-time.After(delay):
			if delay < 60*w.retryDelay {
				delay *= 2
			}
		case <-w.stopChan:
			// Shutdown: one immediate final attempt, then give up.
			if err := w.store.Save(ctx, e); err == nil {
				metrics.HistoryWrites.WithLabelValues(kind).Inc()
			} else {
				logging.Error().Err(err).Str("entry_id", e.ID).
					Msg("Dropping history entry at shutdown")
			}
			return
		}
	}
}
