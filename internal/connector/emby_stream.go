// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

/*
emby_stream.go - Emby WebSocket event stream

One EmbyEventStream represents a single push connection. The stream
subscribes to session updates (SessionsStart) and surfaces each
"Sessions" message as a batch of normalized snapshots. It never
reconnects; when the connection dies Next returns an error and the
ingestor opens a fresh stream.

WebSocket Endpoint: ws(s)://{emby_url}/embywebsocket?api_key={key}
*/

package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/metrics"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsReadDeadline     = 60 * time.Second
	wsPingInterval     = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

// EmbyEventStream is a single websocket connection to Emby.
type EmbyEventStream struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	batches chan []SessionSnapshot
	errs    chan error

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ EventStream = (*EmbyEventStream)(nil)

// OpenEventStream implements Connector. The connection is subscribed to
// session updates before returning.
func (c *EmbyConnector) OpenEventStream(ctx context.Context) (EventStream, error) {
	const op = "emby.stream"

	wsURL, err := c.webSocketURL()
	if err != nil {
		return nil, newError(KindUnreachable, op, err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  wsHandshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		kind := classifyTransportError(err)
		if resp != nil {
			if resp.StatusCode == 401 || resp.StatusCode == 403 {
				kind = KindUnauthorized
			}
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		metrics.ConnectorErrors.WithLabelValues(op, kind.String()).Inc()
		return nil, newError(kind, op, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	s := &EmbyEventStream{
		conn:     conn,
		batches:  make(chan []SessionSnapshot, 4),
		errs:     make(chan error, 1),
		stopChan: make(chan struct{}),
	}

	// Subscribe with initial data and a 1500ms update interval.
	subscribe := struct {
		MessageType string `json:"MessageType"`
		Data        string `json:"Data"`
	}{MessageType: "SessionsStart", Data: "0,1500"}
	if err := s.writeJSON(subscribe); err != nil {
		_ = conn.Close()
		return nil, newError(KindUnreachable, op, fmt.Errorf("subscribe failed: %w", err))
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	logging.Debug().Str("url", wsURL).Msg("Emby event stream connected")
	return s, nil
}

// Next implements EventStream.
func (s *EmbyEventStream) Next(ctx context.Context) ([]SessionSnapshot, error) {
	select {
	case batch := <-s.batches:
		return batch, nil
	case err := <-s.errs:
		return nil, err
	case <-s.stopChan:
		return nil, newError(KindUnreachable, "emby.stream", fmt.Errorf("stream closed"))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements EventStream.
func (s *EmbyEventStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.connMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
		s.connMu.Unlock()
	})
	s.wg.Wait()
	return nil
}

// readLoop decodes incoming messages and dispatches session batches.
func (s *EmbyEventStream) readLoop() {
	defer s.wg.Done()

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(wsReadDeadline)); err != nil {
			s.fail(err)
			return
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.fail(err)
			}
			return
		}

		var msg struct {
			MessageType string          `json:"MessageType"`
			Data        json.RawMessage `json:"Data,omitempty"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			logging.Warn().Err(err).Msg("Dropping undecodable stream message")
			continue
		}

		switch msg.MessageType {
		case "Sessions":
			batch, ok := s.decodeSessions(msg.Data)
			if !ok {
				continue
			}
			metrics.PushEventsReceived.Inc()
			select {
			case s.batches <- batch:
			case <-s.stopChan:
				return
			}
		case "KeepAlive", "ForceKeepAlive":
			// Server-side liveness chatter, nothing to do.
		default:
			logging.Trace().Str("type", msg.MessageType).Msg("Ignoring stream message")
		}
	}
}

// decodeSessions normalizes a Sessions payload. Malformed entries are
// dropped and counted; active sessions without a playing item are skipped.
func (s *EmbyEventStream) decodeSessions(data json.RawMessage) ([]SessionSnapshot, bool) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		metrics.ObservationsDropped.WithLabelValues("malformed").Inc()
		logging.Warn().Err(err).Msg("Dropping malformed Sessions payload")
		return nil, false
	}

	capturedAt := time.Now()
	batch := make([]SessionSnapshot, 0, len(raw))
	for _, payload := range raw {
		var es embySession
		if err := json.Unmarshal(payload, &es); err != nil {
			metrics.ObservationsDropped.WithLabelValues("malformed").Inc()
			continue
		}
		if es.NowPlayingItem == nil {
			continue
		}
		snap, err := es.normalize(capturedAt, payload)
		if err != nil {
			metrics.ObservationsDropped.WithLabelValues("malformed").Inc()
			logging.Warn().Err(err).Str("session", es.ID).Msg("Dropping malformed push session")
			continue
		}
		batch = append(batch, snap)
	}
	return batch, true
}

// pingLoop keeps the connection alive with ws ping control frames.
func (s *EmbyEventStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.connMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			s.connMu.Unlock()
			if err != nil {
				select {
				case <-s.stopChan:
				default:
					s.fail(err)
				}
				return
			}
		}
	}
}

func (s *EmbyEventStream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

// fail surfaces the first terminal error to Next.
func (s *EmbyEventStream) fail(err error) {
	select {
	case s.errs <- newError(classifyTransportError(err), "emby.stream", err):
	default:
	}
}
