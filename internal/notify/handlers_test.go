// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/sessionwatch/sessionwatch/internal/connector"
)

func TestWebhookHandlerPostsJSON(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	h := NewWebhookHandler(server.URL, 5*time.Second)
	n := Notification{
		Action: ActionStop,
		Event:  lifecycleEvent("s1", connector.StatePlaying, connector.StateStopped, 90),
	}
	if err := h.Handle(context.Background(), n); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}

	var decoded Notification
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("webhook body is not valid JSON: %v", err)
	}
	if decoded.Action != ActionStop || decoded.Event.SessionKey != "s1" {
		t.Errorf("decoded = %+v, want on_stop for s1", decoded)
	}
}

func TestWebhookHandlerRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	h := NewWebhookHandler(server.URL, 5*time.Second)
	n := Notification{
		Action: ActionStart,
		Event:  lifecycleEvent("s1", connector.StateStarting, connector.StatePlaying, 0),
	}
	if err := h.Handle(context.Background(), n); err == nil {
		t.Error("Handle() accepted a 502 response")
	}
}

func TestBusHandlerPublishes(t *testing.T) {
	t.Parallel()

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	t.Cleanup(func() { _ = pubsub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubsub.Subscribe(ctx, LifecycleTopic)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	h := NewBusHandler(pubsub, "")
	n := Notification{
		Action: ActionPause,
		Event:  lifecycleEvent("s1", connector.StatePlaying, connector.StatePaused, 0),
	}
	if err := h.Handle(ctx, n); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	select {
	case msg := <-messages:
		msg.Ack()
		if got := msg.Metadata.Get("action"); got != "on_pause" {
			t.Errorf("metadata action = %q, want on_pause", got)
		}
		var decoded Notification
		if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
			t.Fatalf("payload is not valid JSON: %v", err)
		}
		if decoded.Event.SessionKey != "s1" {
			t.Errorf("SessionKey = %q, want s1", decoded.Event.SessionKey)
		}
	case <-ctx.Done():
		t.Fatal("no message received on lifecycle topic")
	}
}
