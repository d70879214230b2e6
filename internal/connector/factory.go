// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package connector

import (
	"fmt"

	"github.com/sessionwatch/sessionwatch/internal/config"
)

// New builds the configured backend connector wrapped with circuit
// breaker and retry layers (retry outermost). The backend is selected
// purely by configuration; callers only ever see the Connector interface.
func New(cfg config.BackendConfig) (Connector, error) {
	var base Connector
	switch cfg.Type {
	case "emby":
		base = NewEmbyConnector(cfg)
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}

	wrapped := NewBreakerConnector(base)
	return NewRetrier(wrapped, cfg.RetryAttempts, cfg.RetryDelay), nil
}
