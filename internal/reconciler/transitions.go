// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package reconciler

import "github.com/sessionwatch/sessionwatch/internal/connector"

// allowedTransitions encodes the legal state machine for a live session.
// starting is the entry state; stopped and error are exits. A session
// never returns to starting, and nothing follows stopped.
var allowedTransitions = map[connector.State]map[connector.State]bool{
	connector.StateStarting: {
		connector.StatePlaying:   true,
		connector.StatePaused:    true,
		connector.StateBuffering: true,
		connector.StateStopped:   true,
		connector.StateError:     true,
	},
	connector.StatePlaying: {
		connector.StatePaused:    true,
		connector.StateBuffering: true,
		connector.StateStopped:   true,
		connector.StateError:     true,
	},
	connector.StatePaused: {
		connector.StatePlaying:   true,
		connector.StateBuffering: true,
		connector.StateStopped:   true,
		connector.StateError:     true,
	},
	connector.StateBuffering: {
		connector.StatePlaying:   true,
		connector.StatePaused:    true,
		connector.StateStopped:   true,
		connector.StateError:     true,
	},
	connector.StateError: {
		connector.StateStopped: true,
	},
	connector.StateStopped: {},
}

// legalTransition reports whether a live session may move from one
// state to another. Self-transitions are not transitions; callers
// handle them as refreshes before consulting the table.
func legalTransition(from, to connector.State) bool {
	return allowedTransitions[from][to]
}
