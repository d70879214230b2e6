// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

// Package metrics provides Prometheus instrumentation for the session
// monitoring pipeline: connector calls, poll/push intake, reconciler
// decisions, history writes, and notification delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connector metrics
	ConnectorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connector_request_duration_seconds",
			Help:    "Duration of backend connector requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ConnectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_errors_total",
			Help: "Total connector errors by operation and error kind",
		},
		[]string{"operation", "kind"},
	)

	ConnectorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_retries_total",
			Help: "Total connector retry attempts after transient errors",
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connector_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Poller metrics
	PollTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_ticks_total",
			Help: "Total poll ticks executed",
		},
	)

	PollTicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_ticks_skipped_total",
			Help: "Total poll ticks skipped because the prior tick was still in flight",
		},
	)

	PollFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_failures_total",
			Help: "Total failed poll fetches",
		},
	)

	PollSessionsSeen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_sessions_seen",
			Help: "Session count in the most recent successful poll snapshot",
		},
	)

	// Push ingestor metrics
	PushEventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_events_received_total",
			Help: "Total push events received from the backend event stream",
		},
	)

	PushReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_reconnects_total",
			Help: "Total push stream reconnect attempts",
		},
	)

	PushConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_connected",
			Help: "Whether the push event stream is currently connected (0 or 1)",
		},
	)

	// Reconciler metrics
	ObservationsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_observations_accepted_total",
			Help: "Total observations accepted by the reconciler, by source",
		},
		[]string{"source"},
	)

	ObservationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_observations_dropped_total",
			Help: "Total observations dropped, by reason (stale, illegal_transition, malformed, conflict)",
		},
		[]string{"reason"},
	)

	SessionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_sessions_live",
			Help: "Current number of live sessions tracked by the reconciler",
		},
	)

	SessionsFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_sessions_flushed_total",
			Help: "Total sessions flushed to history, by cause (stopped, grace, poll_loss, shutdown)",
		},
		[]string{"cause"},
	)

	// History metrics
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_writes_total",
			Help: "Total history entry writes, by kind (insert, merge)",
		},
		[]string{"kind"},
	)

	HistoryWriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_write_retries_total",
			Help: "Total history store write retries after storage failure",
		},
	)

	HistoryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "history_queue_depth",
			Help: "Lifecycle events pending in the history writer queue",
		},
	)

	// Notification dispatcher metrics
	NotificationsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_events_queued_total",
			Help: "Total lifecycle events enqueued for notification dispatch",
		},
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_events_dropped_total",
			Help: "Total lifecycle events dropped because the dispatch queue was full",
		},
	)

	NotificationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_queue_depth",
			Help: "Current notification dispatch queue depth",
		},
	)

	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_delivered_total",
			Help: "Total notification deliveries, by action and handler",
		},
		[]string{"action", "handler"},
	)

	NotificationHandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_handler_errors_total",
			Help: "Total notification handler errors and panics, by handler",
		},
		[]string{"handler"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)
