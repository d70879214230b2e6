// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

/*
handlers.go - Built-in notification handlers

Log: structured log line per notification, always on.
Webhook: JSON POST to a configured URL with a per-request timeout.
Bus: publishes notifications to a Watermill topic for in-process
subscribers such as the lifecycle websocket feed.
*/

package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/sessionwatch/sessionwatch/internal/logging"
)

// LifecycleTopic is the bus topic notifications are published on.
const LifecycleTopic = "sessionwatch.lifecycle"

// LogHandler writes every notification to the structured log.
type LogHandler struct{}

func NewLogHandler() *LogHandler { return &LogHandler{} }

func (h *LogHandler) Name() string { return "log" }

func (h *LogHandler) Handle(_ context.Context, n Notification) error {
	logging.Info().
		Str("action", string(n.Action)).
		Str("session_key", n.Event.SessionKey).
		Str("user", n.Event.Session.UserName).
		Str("item", n.Event.Session.ItemTitle).
		Str("from", string(n.Event.From)).
		Str("to", string(n.Event.To)).
		Float64("watched_percent", n.Event.WatchedPercent).
		Msg("Session lifecycle")
	return nil
}

// WebhookHandler POSTs notifications as JSON to a fixed URL.
type WebhookHandler struct {
	url    string
	client *http.Client
}

func NewWebhookHandler(url string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookHandler{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *WebhookHandler) Name() string { return "webhook" }

func (h *WebhookHandler) Handle(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sessionwatch")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// BusHandler publishes notifications to a Watermill topic.
type BusHandler struct {
	pub   message.Publisher
	topic string
}

func NewBusHandler(pub message.Publisher, topic string) *BusHandler {
	if topic == "" {
		topic = LifecycleTopic
	}
	return &BusHandler{pub: pub, topic: topic}
}

func (h *BusHandler) Name() string { return "bus" }

func (h *BusHandler) Handle(_ context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("action", string(n.Action))
	msg.Metadata.Set("session_key", n.Event.SessionKey)

	return h.pub.Publish(h.topic, msg)
}
