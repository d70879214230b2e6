// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sessionwatch/sessionwatch/internal/connector"
	"github.com/sessionwatch/sessionwatch/internal/history"
	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/reconciler"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	readinessTimeout = 3 * time.Second
	commandTimeout   = 10 * time.Second
	metadataTimeout  = 5 * time.Second
)

// SessionSource exposes the live session table.
type SessionSource interface {
	Snapshot() []reconciler.Session
}

// Handler serves the status API endpoints.
type Handler struct {
	sessions SessionSource
	store    history.Store
	conn     connector.Connector
}

// NewHandler wires the handler to its data sources.
func NewHandler(sessions SessionSource, store history.Store, conn connector.Connector) *Handler {
	return &Handler{sessions: sessions, store: store, conn: conn}
}

// Healthz reports process liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports backend reachability.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := h.conn.Ping(ctx); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "backend_unreachable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"backend": h.conn.Name(),
	})
}

// sessionView is a live session optionally decorated with backend item
// metadata when the client asks for it.
type sessionView struct {
	reconciler.Session
	Metadata *connector.ItemMetadata `json:"metadata,omitempty"`
}

// Sessions returns all live sessions. With ?expand=metadata each
// distinct item is looked up on the backend once; lookup failures leave
// the session undecorated rather than failing the request.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.Snapshot()

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{Session: s})
	}

	if r.URL.Query().Get("expand") == "metadata" && len(views) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), metadataTimeout)
		defer cancel()

		items := make(map[string]*connector.ItemMetadata)
		for i := range views {
			itemID := views[i].ItemID
			if itemID == "" {
				continue
			}
			meta, ok := items[itemID]
			if !ok {
				var err error
				meta, err = h.conn.GetItemMetadata(ctx, itemID)
				if err != nil {
					logging.Debug().Err(err).Str("item_id", itemID).Msg("Item metadata lookup failed")
					meta = nil
				}
				items[itemID] = meta
			}
			views[i].Metadata = meta
		}
	}

	writeJSON(w, http.StatusOK, views)
}

// HistoryRecent returns the newest history entries.
func (h *Handler) HistoryRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		logging.Error().Err(err).Msg("History query failed")
		writeError(w, r, http.StatusInternalServerError, "history_unavailable", "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// StopSession asks the backend to stop a live session. The session must
// be in the live table; the actual state change arrives back through
// the intake paths like any other transition.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	found := false
	for _, s := range h.sessions.Snapshot() {
		if s.SessionKey == key {
			found = true
			break
		}
	}
	if !found {
		writeError(w, r, http.StatusNotFound, "session_not_found", "no live session with that key")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := h.conn.SendCommand(ctx, key, connector.CommandStop); err != nil {
		var ce *connector.Error
		if errors.As(err, &ce) && ce.Kind == connector.KindNotFound {
			writeError(w, r, http.StatusNotFound, "session_not_found", "backend no longer knows the session")
			return
		}
		logging.Warn().Err(err).Str("session_key", key).Msg("Stop command failed")
		writeError(w, r, http.StatusBadGateway, "command_failed", "backend rejected the stop command")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_key": key,
		"command":     string(connector.CommandStop),
	})
}
