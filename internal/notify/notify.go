// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

// Package notify turns lifecycle events into notifications and fans
// them out to handlers. Delivery is best-effort: the queue is bounded,
// the oldest events are dropped under backpressure, and a failing
// handler never affects the others.
package notify

import (
	"context"

	"github.com/sessionwatch/sessionwatch/internal/connector"
	"github.com/sessionwatch/sessionwatch/internal/reconciler"
)

// Action names a notification trigger.
type Action string

const (
	ActionStart   Action = "on_start"
	ActionPause   Action = "on_pause"
	ActionResume  Action = "on_resume"
	ActionStop    Action = "on_stop"
	ActionWatched Action = "on_watched"
	ActionError   Action = "on_error"
)

// Notification pairs an action with the lifecycle event that caused it.
type Notification struct {
	Action Action           `json:"action"`
	Event  reconciler.Event `json:"event"`
}

// Handler delivers one notification. Handlers are called sequentially
// from the dispatcher worker; a panic or error is contained and logged.
type Handler interface {
	Name() string
	Handle(ctx context.Context, n Notification) error
}

// actionsFor maps a state transition to its notification actions.
// A stop past the watched threshold produces both on_stop and
// on_watched. Buffering transitions are playback plumbing, not events
// anyone wants to hear about.
func actionsFor(ev reconciler.Event, watchedThreshold float64) []Action {
	switch ev.To {
	case connector.StateStopped:
		actions := []Action{ActionStop}
		if watchedThreshold > 0 && ev.WatchedPercent >= watchedThreshold {
			actions = append(actions, ActionWatched)
		}
		return actions
	case connector.StateError:
		return []Action{ActionError}
	case connector.StatePlaying:
		switch ev.From {
		case connector.StateStarting:
			return []Action{ActionStart}
		case connector.StatePaused:
			return []Action{ActionResume}
		}
	case connector.StatePaused:
		return []Action{ActionPause}
	}
	return nil
}
