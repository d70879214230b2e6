// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

// Package api serves the status API: live sessions, recent history,
// health, metrics, and a session stop command.
package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/middleware"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error carries a machine-readable code with a human-readable message.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Success: true, Data: data}); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := Response{Error: &Error{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetRequestID(r.Context()),
	}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode API error response")
	}
}
