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

	"github.com/sessionwatch/sessionwatch/internal/config"
)

func testBackendConfig(url string) config.BackendConfig {
	return config.BackendConfig{
		Type:    "emby",
		URL:     url,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	}
}

const sessionsPayload = `[
	{
		"Id": "sess-1",
		"Client": "Emby Web",
		"DeviceId": "dev-1",
		"UserId": "user-1",
		"UserName": "alice",
		"NowPlayingItem": {
			"Id": "item-1",
			"Name": "The Matrix",
			"Type": "Movie",
			"RunTimeTicks": 81600000000
		},
		"PlayState": {
			"PositionTicks": 40800000000,
			"IsPaused": false,
			"PlayMethod": "DirectPlay"
		}
	},
	{
		"Id": "sess-2",
		"UserId": "user-2",
		"UserName": "bob",
		"NowPlayingItem": {
			"Id": "item-2",
			"Name": "Pilot",
			"Type": "Episode",
			"SeriesName": "Some Show",
			"RunTimeTicks": 27000000000
		},
		"PlayState": {
			"PositionTicks": 2700000000,
			"IsPaused": true
		},
		"TranscodingInfo": {"VideoCodec": "h264"}
	},
	{
		"Id": "sess-idle",
		"UserId": "user-3",
		"UserName": "carol"
	},
	{
		"Id": "",
		"NowPlayingItem": {"Id": "item-4", "Name": "Broken"}
	}
]`

func TestListActiveSessions(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Emby-Token"); got != "test-key" {
			t.Errorf("X-Emby-Token = %q, want test-key", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sessionsPayload))
	}))
	defer server.Close()

	c := NewEmbyConnector(testBackendConfig(server.URL))
	snapshots, err := c.ListActiveSessions(context.Background())
	if err != nil {
		t.Fatalf("ListActiveSessions() error: %v", err)
	}

	// Idle session and the one missing an Id are excluded.
	if len(snapshots) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snapshots))
	}

	first := snapshots[0]
	if first.SessionKey != "sess-1" {
		t.Errorf("SessionKey = %q, want sess-1", first.SessionKey)
	}
	if first.State != StatePlaying {
		t.Errorf("State = %q, want playing", first.State)
	}
	// 40800000000 ticks = 4080000 ms (ticks / 10000)
	if first.PositionMs != 4_080_000 {
		t.Errorf("PositionMs = %d, want 4080000", first.PositionMs)
	}
	if first.DurationMs != 8_160_000 {
		t.Errorf("DurationMs = %d, want 8160000", first.DurationMs)
	}
	if first.TranscodeDecision != "directplay" {
		t.Errorf("TranscodeDecision = %q, want directplay", first.TranscodeDecision)
	}
	if first.Transcoding {
		t.Error("Transcoding = true, want false")
	}

	second := snapshots[1]
	if second.State != StatePaused {
		t.Errorf("State = %q, want paused", second.State)
	}
	if !second.Transcoding {
		t.Error("Transcoding = false, want true")
	}
}

func TestListActiveSessionsUnauthorized(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewEmbyConnector(testBackendConfig(server.URL))
	_, err := c.ListActiveSessions(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	kind, ok := KindOf(err)
	if !ok || kind != KindUnauthorized {
		t.Errorf("KindOf(err) = %v,%v, want unauthorized", kind, ok)
	}
}

func TestListActiveSessionsUnreachable(t *testing.T) {
	t.Parallel()

	// Closed server: dial fails.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c := NewEmbyConnector(testBackendConfig(server.URL))
	_, err := c.ListActiveSessions(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	kind, ok := KindOf(err)
	if !ok || kind != KindUnreachable {
		t.Errorf("KindOf(err) = %v,%v, want unreachable", kind, ok)
	}
}

func TestListActiveSessionsMalformedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not": "an array"`))
	}))
	defer server.Close()

	c := NewEmbyConnector(testBackendConfig(server.URL))
	_, err := c.ListActiveSessions(context.Background())

	kind, ok := KindOf(err)
	if !ok || kind != KindMalformed {
		t.Errorf("KindOf(err) = %v,%v, want malformed", kind, ok)
	}
}

func TestGetItemMetadata(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Items/item-9":
			_, _ = w.Write([]byte(`{
				"Id": "item-9",
				"Name": "Finale",
				"Type": "Episode",
				"SeriesName": "Some Show",
				"IndexNumber": 10,
				"ParentIndexNumber": 2,
				"ProductionYear": 2024,
				"RunTimeTicks": 36000000000
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewEmbyConnector(testBackendConfig(server.URL))

	item, err := c.GetItemMetadata(context.Background(), "item-9")
	if err != nil {
		t.Fatalf("GetItemMetadata() error: %v", err)
	}
	if item.Title != "Finale" || item.SeriesName != "Some Show" {
		t.Errorf("unexpected metadata: %+v", item)
	}
	if item.Season != 2 || item.Episode != 10 {
		t.Errorf("Season/Episode = %d/%d, want 2/10", item.Season, item.Episode)
	}
	if item.DurationMs != 3_600_000 {
		t.Errorf("DurationMs = %d, want 3600000", item.DurationMs)
	}

	_, err = c.GetItemMetadata(context.Background(), "missing")
	kind, ok := KindOf(err)
	if !ok || kind != KindNotFound {
		t.Errorf("KindOf(err) = %v,%v, want not_found", kind, ok)
	}
}

func TestSendCommand(t *testing.T) {
	t.Parallel()

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewEmbyConnector(testBackendConfig(server.URL))
	if err := c.SendCommand(context.Background(), "sess-1", CommandStop); err != nil {
		t.Fatalf("SendCommand() error: %v", err)
	}
	if gotPath != "/Sessions/sess-1/Playing/Stop" {
		t.Errorf("path = %q, want /Sessions/sess-1/Playing/Stop", gotPath)
	}
}

func TestServerInfo(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/System/Info" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"ServerName": "den", "Version": "4.8.0", "Id": "abc123"}`))
	}))
	defer server.Close()

	c := NewEmbyConnector(testBackendConfig(server.URL))
	info, err := c.ServerInfo(context.Background())
	if err != nil {
		t.Fatalf("ServerInfo() error: %v", err)
	}
	if info.Name != "den" || info.Version != "4.8.0" || info.ID != "abc123" {
		t.Errorf("unexpected server info: %+v", info)
	}
}

func TestWebSocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base string
		want string
	}{
		{"http://emby.local:8096", "ws://emby.local:8096/embywebsocket?api_key=test-key&deviceId=sessionwatch"},
		{"https://emby.local", "wss://emby.local/embywebsocket?api_key=test-key&deviceId=sessionwatch"},
	}

	for _, tt := range tests {
		c := NewEmbyConnector(testBackendConfig(tt.base))
		got, err := c.webSocketURL()
		if err != nil {
			t.Fatalf("webSocketURL(%q) error: %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("webSocketURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
