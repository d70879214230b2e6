// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func TestEventStreamDeliversSessions(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embywebsocket" {
			t.Errorf("path = %s, want /embywebsocket", r.URL.Path)
		}
		if r.URL.Query().Get("api_key") != "test-key" {
			t.Errorf("api_key = %q, want test-key", r.URL.Query().Get("api_key"))
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Expect the SessionsStart subscription first.
		var sub struct {
			MessageType string `json:"MessageType"`
			Data        string `json:"Data"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.MessageType != "SessionsStart" {
			t.Errorf("MessageType = %q, want SessionsStart", sub.MessageType)
		}

		// Chatter the stream must ignore, then a real Sessions batch.
		_ = conn.WriteJSON(map[string]string{"MessageType": "ForceKeepAlive"})
		_ = conn.WriteJSON(map[string]any{
			"MessageType": "Sessions",
			"Data": []map[string]any{
				{
					"Id":       "push-1",
					"UserId":   "user-1",
					"UserName": "alice",
					"NowPlayingItem": map[string]any{
						"Id":           "item-1",
						"Name":         "The Matrix",
						"RunTimeTicks": 81600000000,
					},
					"PlayState": map[string]any{
						"PositionTicks": 600000000,
						"IsPaused":      true,
					},
				},
				// Idle session, excluded from the batch.
				{"Id": "push-2", "UserId": "user-2"},
			},
		})

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c := NewEmbyConnector(testBackendConfig(server.URL))
	stream, err := c.OpenEventStream(context.Background())
	if err != nil {
		t.Fatalf("OpenEventStream() error: %v", err)
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(batch))
	}
	if batch[0].SessionKey != "push-1" {
		t.Errorf("SessionKey = %q, want push-1", batch[0].SessionKey)
	}
	if batch[0].State != StatePaused {
		t.Errorf("State = %q, want paused", batch[0].State)
	}
	if batch[0].PositionMs != 60_000 {
		t.Errorf("PositionMs = %d, want 60000", batch[0].PositionMs)
	}
}

func TestEventStreamSurfacesDisconnect(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Consume the subscription, then drop the connection.
		var sub json.RawMessage
		_ = conn.ReadJSON(&sub)
		conn.Close()
	}))
	defer server.Close()

	c := NewEmbyConnector(testBackendConfig(server.URL))
	stream, err := c.OpenEventStream(context.Background())
	if err != nil {
		t.Fatalf("OpenEventStream() error: %v", err)
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = stream.Next(ctx)
	if err == nil {
		t.Fatal("Next() = nil error after server disconnect")
	}
	if _, ok := KindOf(err); !ok {
		t.Errorf("disconnect error is not a connector error: %v", err)
	}
}

func TestOpenEventStreamDialFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c := NewEmbyConnector(testBackendConfig(server.URL))
	_, err := c.OpenEventStream(context.Background())
	if err == nil {
		t.Fatal("expected dial failure")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindUnreachable {
		t.Errorf("KindOf(err) = %v,%v, want unreachable", kind, ok)
	}
}
