// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitAndLog(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("component", "test").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"component":"test"`) {
		t.Errorf("missing structured field, got %q", out)
	}
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("missing message, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSlogBridge(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	slogger := slog.New(NewSlogHandler())
	slogger.Info("bridged", slog.String("service", "poller"), slog.Int64("n", 3))

	out := buf.String()
	if !strings.Contains(out, `"service":"poller"`) {
		t.Errorf("missing string attr, got %q", out)
	}
	if !strings.Contains(out, `"n":3`) {
		t.Errorf("missing int attr, got %q", out)
	}
	if !strings.Contains(out, `"message":"bridged"`) {
		t.Errorf("missing message, got %q", out)
	}
}

func TestSlogBridgeGroups(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	slogger := slog.New(NewSlogHandler()).WithGroup("conn").With(slog.String("backend", "emby"))
	slogger.Warn("reconnecting")

	if !strings.Contains(buf.String(), `"conn.backend":"emby"`) {
		t.Errorf("group prefix missing, got %q", buf.String())
	}
}
