// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

/*
dispatcher.go - Notification dispatcher

A single worker drains a bounded queue of lifecycle events, maps each
to its actions, and delivers to every handler in registration order.
When producers outrun the worker the oldest queued events are dropped;
live notifications age badly, so newest-wins is the right loss mode.
*/

package notify

import (
	"context"
	"sync"

	"github.com/sessionwatch/sessionwatch/internal/config"
	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/metrics"
	"github.com/sessionwatch/sessionwatch/internal/reconciler"
)

const defaultQueueSize = 256

// Dispatcher fans lifecycle events out to notification handlers.
type Dispatcher struct {
	policy    *config.PolicyHolder
	handlers  []Handler
	queueSize int

	mu    sync.Mutex
	queue []reconciler.Event
	wake  chan struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher delivering to the given handlers.
func NewDispatcher(policy *config.PolicyHolder, cfg config.NotifyConfig, handlers ...Handler) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		policy:    policy,
		handlers:  handlers,
		queueSize: queueSize,
		wake:      make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run()
	}()
	logging.Info().Int("handlers", len(d.handlers)).Int("queue_size", d.queueSize).
		Msg("Notification dispatcher started")
}

// Stop drains the queue and waits for the worker to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()
}

// Enqueue accepts a lifecycle event, dropping the oldest queued event
// when the queue is full. Never blocks; safe as a reconciler sink.
func (d *Dispatcher) Enqueue(ev reconciler.Event) {
	d.mu.Lock()
	if len(d.queue) >= d.queueSize {
		d.queue = d.queue[1:]
		metrics.NotificationsDropped.Inc()
	}
	d.queue = append(d.queue, ev)
	depth := len(d.queue)
	d.mu.Unlock()

	metrics.NotificationsQueued.Inc()
	metrics.NotificationQueueDepth.Set(float64(depth))
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	for {
		for _, ev := range d.take() {
			d.dispatch(ev)
		}

		select {
		case <-d.wake:
		case <-d.stopChan:
			for _, ev := range d.take() {
				d.dispatch(ev)
			}
			return
		}
	}
}

func (d *Dispatcher) take() []reconciler.Event {
	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()

	metrics.NotificationQueueDepth.Set(0)
	return batch
}

func (d *Dispatcher) dispatch(ev reconciler.Event) {
	threshold := d.policy.Load().WatchedThreshold
	for _, action := range actionsFor(ev, threshold) {
		n := Notification{Action: action, Event: ev}
		for _, h := range d.handlers {
			d.deliver(h, n)
		}
	}
}

// deliver runs one handler, containing errors and panics.
func (d *Dispatcher) deliver(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationHandlerErrors.WithLabelValues(h.Name()).Inc()
			logging.Error().
				Str("handler", h.Name()).
				Str("action", string(n.Action)).
				Interface("panic", r).
				Msg("Notification handler panicked")
		}
	}()

	if err := h.Handle(context.Background(), n); err != nil {
		metrics.NotificationHandlerErrors.WithLabelValues(h.Name()).Inc()
		logging.Warn().Err(err).
			Str("handler", h.Name()).
			Str("action", string(n.Action)).
			Str("session_key", n.Event.SessionKey).
			Msg("Notification delivery failed")
		return
	}
	metrics.NotificationsDelivered.WithLabelValues(string(n.Action), h.Name()).Inc()
}
