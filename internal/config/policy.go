// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package config

import (
	"sync/atomic"
	"time"
)

// Policy is the hot-reloadable tuning subset of the configuration.
// Running services read the current Policy from a PolicyHolder on each
// cycle, so a config file change takes effect without a restart.
type Policy struct {
	PollInterval     time.Duration
	DebounceTicks    int
	FailureThreshold int
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	GracePeriod      time.Duration
	MergeGap         time.Duration
	WatchedThreshold float64
}

// PolicyHolder publishes the current Policy to running services.
// Load and Store are safe for concurrent use.
type PolicyHolder struct {
	current atomic.Pointer[Policy]
}

// NewPolicyHolder creates a holder seeded with the given policy.
func NewPolicyHolder(p Policy) *PolicyHolder {
	h := &PolicyHolder{}
	h.current.Store(&p)
	return h
}

// Load returns the current policy.
func (h *PolicyHolder) Load() Policy {
	return *h.current.Load()
}

// Store replaces the current policy.
func (h *PolicyHolder) Store(p Policy) {
	h.current.Store(&p)
}
