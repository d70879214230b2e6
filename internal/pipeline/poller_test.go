// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sessionwatch/sessionwatch/internal/config"
	"github.com/sessionwatch/sessionwatch/internal/connector"
	"github.com/sessionwatch/sessionwatch/internal/reconciler"
)

// recordingApplier captures observations and flushes for assertions.
type recordingApplier struct {
	mu      sync.Mutex
	obs     []reconciler.Observation
	flushes []string
}

func (a *recordingApplier) Apply(o reconciler.Observation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.obs = append(a.obs, o)
}

func (a *recordingApplier) FlushPollOnly(note string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushes = append(a.flushes, note)
}

func (a *recordingApplier) observations() []reconciler.Observation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]reconciler.Observation, len(a.obs))
	copy(out, a.obs)
	return out
}

func (a *recordingApplier) flushCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.flushes)
}

// fakeConn scripts connector behavior for intake tests.
type fakeConn struct {
	listFn func(call int) ([]connector.SessionSnapshot, error)
	openFn func(call int) (connector.EventStream, error)

	listCalls atomic.Int32
	openCalls atomic.Int32
}

func (f *fakeConn) Name() string               { return "fake" }
func (f *fakeConn) Ping(context.Context) error { return nil }

func (f *fakeConn) ServerInfo(context.Context) (*connector.ServerInfo, error) {
	return &connector.ServerInfo{Name: "fake"}, nil
}

func (f *fakeConn) ListActiveSessions(context.Context) ([]connector.SessionSnapshot, error) {
	return f.listFn(int(f.listCalls.Add(1)))
}

func (f *fakeConn) GetItemMetadata(context.Context, string) (*connector.ItemMetadata, error) {
	return &connector.ItemMetadata{}, nil
}

func (f *fakeConn) OpenEventStream(context.Context) (connector.EventStream, error) {
	if f.openFn == nil {
		return nil, connector.ErrStreamUnsupported
	}
	return f.openFn(int(f.openCalls.Add(1)))
}

func (f *fakeConn) SendCommand(context.Context, string, connector.Command) error { return nil }

func testPolicy(debounce, threshold int) *config.PolicyHolder {
	return config.NewPolicyHolder(config.Policy{
		PollInterval:     10 * time.Millisecond,
		DebounceTicks:    debounce,
		FailureThreshold: threshold,
		ReconnectMin:     time.Millisecond,
		ReconnectMax:     10 * time.Millisecond,
		GracePeriod:      time.Hour,
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func snapshotFor(key string) connector.SessionSnapshot {
	return connector.SessionSnapshot{
		SessionKey: key,
		UserID:     "user-1",
		UserName:   "alice",
		ItemID:     "item-1",
		ItemTitle:  "The Matrix",
		State:      connector.StatePlaying,
		PositionMs: 60_000,
		DurationMs: 8_160_000,
		CapturedAt: time.Now(),
	}
}

func TestPollerEmitsObservations(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{
		listFn: func(int) ([]connector.SessionSnapshot, error) {
			return []connector.SessionSnapshot{snapshotFor("s1"), snapshotFor("s2")}, nil
		},
	}
	applier := &recordingApplier{}
	p := NewPoller(conn, testPolicy(1, 6), applier)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(p.Stop)

	waitFor(t, func() bool { return len(applier.observations()) >= 2 }, "no observations emitted")

	obs := applier.observations()[0]
	if obs.Source != reconciler.SourcePoll {
		t.Errorf("Source = %q, want poll", obs.Source)
	}
	if obs.State != connector.StatePlaying {
		t.Errorf("State = %q, want playing", obs.State)
	}
	if obs.Revision != obs.ObservedAt.UnixMilli() {
		t.Errorf("Revision = %d, want capture time %d", obs.Revision, obs.ObservedAt.UnixMilli())
	}
}

func TestPollerEmitsDebouncedStop(t *testing.T) {
	t.Parallel()

	// First poll sees the session; every later poll comes back empty.
	conn := &fakeConn{
		listFn: func(call int) ([]connector.SessionSnapshot, error) {
			if call == 1 {
				return []connector.SessionSnapshot{snapshotFor("s1")}, nil
			}
			return nil, nil
		},
	}
	applier := &recordingApplier{}
	p := NewPoller(conn, testPolicy(1, 6), applier)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(p.Stop)

	waitFor(t, func() bool {
		for _, o := range applier.observations() {
			if o.State == connector.StateStopped {
				return true
			}
		}
		return false
	}, "no synthetic stop after debounce window")

	var stop reconciler.Observation
	for _, o := range applier.observations() {
		if o.State == connector.StateStopped {
			stop = o
			break
		}
	}
	if stop.SessionKey != "s1" {
		t.Errorf("SessionKey = %q, want s1", stop.SessionKey)
	}
	if stop.PositionMs != 60_000 {
		t.Errorf("PositionMs = %d, want last known 60000", stop.PositionMs)
	}
	if stop.Note == "" {
		t.Error("synthetic stop carries no note")
	}
}

func TestPollerSingleMissIsDebounced(t *testing.T) {
	t.Parallel()

	// The session blinks out for exactly one poll, then returns.
	conn := &fakeConn{
		listFn: func(call int) ([]connector.SessionSnapshot, error) {
			if call == 2 {
				return nil, nil
			}
			return []connector.SessionSnapshot{snapshotFor("s1")}, nil
		},
	}
	applier := &recordingApplier{}
	p := NewPoller(conn, testPolicy(1, 6), applier)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(p.Stop)

	waitFor(t, func() bool { return conn.listCalls.Load() >= 5 }, "not enough polls")

	for _, o := range applier.observations() {
		if o.State == connector.StateStopped {
			t.Fatal("single missed poll produced a stop")
		}
	}
}

func TestPollerFlushesAfterFailureThreshold(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{
		listFn: func(int) ([]connector.SessionSnapshot, error) {
			return nil, &connector.Error{Kind: connector.KindUnreachable, Op: "fake.sessions"}
		},
	}
	applier := &recordingApplier{}
	p := NewPoller(conn, testPolicy(1, 3), applier)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(p.Stop)

	waitFor(t, func() bool { return applier.flushCount() >= 1 }, "no poll-only flush after threshold")

	// The flush fires once per outage, not once per failed poll.
	waitFor(t, func() bool { return conn.listCalls.Load() >= 8 }, "not enough failed polls")
	if got := applier.flushCount(); got != 1 {
		t.Errorf("flush count = %d, want 1", got)
	}
}

func TestPollerRecoversAfterOutage(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{
		listFn: func(call int) ([]connector.SessionSnapshot, error) {
			if call <= 3 {
				return nil, &connector.Error{Kind: connector.KindUnreachable, Op: "fake.sessions"}
			}
			return []connector.SessionSnapshot{snapshotFor("s1")}, nil
		},
	}
	applier := &recordingApplier{}
	p := NewPoller(conn, testPolicy(1, 3), applier)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(p.Stop)

	waitFor(t, func() bool { return applier.flushCount() == 1 }, "no flush during outage")
	waitFor(t, func() bool { return len(applier.observations()) >= 1 }, "no observations after recovery")
}
