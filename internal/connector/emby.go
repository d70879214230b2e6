// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

/*
emby.go - Emby REST API connector

Implements the Connector interface against the Emby server REST API.
Position and runtime values arrive in ticks (100ns units, 1ms = 10000
ticks) and are converted to milliseconds during normalization.

API Reference: https://dev.emby.media/doc/restapi/index.html
*/

package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/sessionwatch/sessionwatch/internal/config"
	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/metrics"
)

// ticksPerMillisecond is Emby's tick resolution (100ns units).
const ticksPerMillisecond = 10_000

// EmbyConnector talks to an Emby server over its REST API.
type EmbyConnector struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Connector = (*EmbyConnector)(nil)

// NewEmbyConnector creates an Emby connector from backend configuration.
func NewEmbyConnector(cfg config.BackendConfig) *EmbyConnector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &EmbyConnector{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// Name implements Connector.
func (c *EmbyConnector) Name() string { return "emby" }

// Ping implements Connector.
func (c *EmbyConnector) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/System/Ping", "emby.ping")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.statusError("emby.ping", resp)
	}
	return nil
}

// ServerInfo implements Connector.
func (c *EmbyConnector) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	const op = "emby.system_info"

	resp, err := c.doRequest(ctx, http.MethodGet, "/System/Info", op)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(op, resp)
	}

	var info struct {
		ServerName string `json:"ServerName"`
		Version    string `json:"Version"`
		ID         string `json:"Id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, newError(KindMalformed, op, err)
	}
	return &ServerInfo{Name: info.ServerName, Version: info.Version, ID: info.ID}, nil
}

// ListActiveSessions implements Connector. Sessions without a playing
// item are excluded; individual sessions that fail normalization are
// dropped and counted, never failing the whole snapshot.
func (c *EmbyConnector) ListActiveSessions(ctx context.Context) ([]SessionSnapshot, error) {
	const op = "emby.sessions"
	start := time.Now()

	resp, err := c.doRequest(ctx, http.MethodGet, "/Sessions", op)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(op, resp)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, newError(KindMalformed, op, err)
	}

	capturedAt := time.Now()
	snapshots := make([]SessionSnapshot, 0, len(raw))
	for _, payload := range raw {
		var es embySession
		if err := json.Unmarshal(payload, &es); err != nil {
			metrics.ObservationsDropped.WithLabelValues("malformed").Inc()
			logging.Warn().Err(err).Msg("Dropping undecodable emby session")
			continue
		}
		if es.NowPlayingItem == nil {
			continue
		}
		snap, err := es.normalize(capturedAt, payload)
		if err != nil {
			metrics.ObservationsDropped.WithLabelValues("malformed").Inc()
			logging.Warn().Err(err).Str("session", es.ID).Msg("Dropping malformed emby session")
			continue
		}
		snapshots = append(snapshots, snap)
	}

	metrics.ConnectorRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return snapshots, nil
}

// GetItemMetadata implements Connector.
func (c *EmbyConnector) GetItemMetadata(ctx context.Context, itemID string) (*ItemMetadata, error) {
	const op = "emby.item"

	if itemID == "" {
		return nil, newError(KindNotFound, op, errors.New("empty item id"))
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/Items/"+url.PathEscape(itemID), op)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(op, resp)
	}

	var item embyItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, newError(KindMalformed, op, err)
	}
	if item.ID == "" {
		return nil, newError(KindMalformed, op, errors.New("item payload missing Id"))
	}

	return &ItemMetadata{
		ItemID:     item.ID,
		Title:      item.Name,
		MediaType:  item.Type,
		SeriesName: item.SeriesName,
		Season:     item.ParentIndexNumber,
		Episode:    item.IndexNumber,
		Year:       item.ProductionYear,
		DurationMs: item.RunTimeTicks / ticksPerMillisecond,
		Overview:   item.Overview,
	}, nil
}

// SendCommand implements Connector. Emby returns 204 No Content on success.
func (c *EmbyConnector) SendCommand(ctx context.Context, sessionKey string, cmd Command) error {
	const op = "emby.command"

	if sessionKey == "" {
		return newError(KindNotFound, op, errors.New("empty session key"))
	}

	endpoint := fmt.Sprintf("/Sessions/%s/Playing/%s", url.PathEscape(sessionKey), cmd)
	resp, err := c.doRequest(ctx, http.MethodPost, endpoint, op)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return c.statusError(op, resp)
	}
	return nil
}

// webSocketURL builds the push channel URL (http -> ws scheme swap,
// /embywebsocket path, api_key and deviceId query parameters).
func (c *EmbyConnector) webSocketURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}

	parsed.Path = "/embywebsocket"
	query := parsed.Query()
	query.Set("api_key", c.apiKey)
	query.Set("deviceId", "sessionwatch")
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// doRequest performs one HTTP request with rate limiting and maps
// transport failures to connector error kinds.
func (c *EmbyConnector) doRequest(ctx context.Context, method, endpoint, op string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, newError(KindTimeout, op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, http.NoBody)
	if err != nil {
		return nil, newError(KindUnreachable, op, err)
	}

	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("X-Emby-Client", "Sessionwatch")
	req.Header.Set("X-Emby-Device-Name", "Sessionwatch")
	req.Header.Set("X-Emby-Device-Id", "sessionwatch")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := classifyTransportError(err)
		metrics.ConnectorErrors.WithLabelValues(op, kind.String()).Inc()
		return nil, newError(kind, op, err)
	}
	return resp, nil
}

// statusError maps a non-success HTTP status to a connector error.
func (c *EmbyConnector) statusError(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	var kind Kind
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = KindUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		kind = KindNotFound
	default:
		kind = KindUnreachable
	}

	metrics.ConnectorErrors.WithLabelValues(op, kind.String()).Inc()
	return newError(kind, op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
}

// classifyTransportError distinguishes deadline expiry from
// connectivity failures.
func classifyTransportError(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}

// embySession mirrors the subset of Emby's session payload we consume.
type embySession struct {
	ID         string `json:"Id"`
	Client     string `json:"Client"`
	DeviceID   string `json:"DeviceId"`
	DeviceName string `json:"DeviceName"`
	UserID     string `json:"UserId"`
	UserName   string `json:"UserName"`

	NowPlayingItem  *embyItem            `json:"NowPlayingItem,omitempty"`
	PlayState       *embyPlayState       `json:"PlayState,omitempty"`
	TranscodingInfo *embyTranscodingInfo `json:"TranscodingInfo,omitempty"`
}

type embyItem struct {
	ID                string `json:"Id"`
	Name              string `json:"Name"`
	Type              string `json:"Type"`
	SeriesName        string `json:"SeriesName,omitempty"`
	IndexNumber       int    `json:"IndexNumber,omitempty"`
	ParentIndexNumber int    `json:"ParentIndexNumber,omitempty"`
	ProductionYear    int    `json:"ProductionYear,omitempty"`
	RunTimeTicks      int64  `json:"RunTimeTicks"`
	Overview          string `json:"Overview,omitempty"`
}

type embyPlayState struct {
	PositionTicks int64  `json:"PositionTicks"`
	IsPaused      bool   `json:"IsPaused"`
	PlayMethod    string `json:"PlayMethod,omitempty"`
}

type embyTranscodingInfo struct {
	VideoCodec string `json:"VideoCodec,omitempty"`
	AudioCodec string `json:"AudioCodec,omitempty"`
}

// normalize converts an Emby session into the backend-neutral snapshot.
func (es *embySession) normalize(capturedAt time.Time, raw json.RawMessage) (SessionSnapshot, error) {
	if es.ID == "" {
		return SessionSnapshot{}, errors.New("session payload missing Id")
	}
	item := es.NowPlayingItem
	if item == nil || item.ID == "" {
		return SessionSnapshot{}, errors.New("session payload missing NowPlayingItem.Id")
	}

	state := StatePlaying
	var positionMs int64
	transcodeDecision := ""
	if es.PlayState != nil {
		if es.PlayState.IsPaused {
			state = StatePaused
		}
		positionMs = es.PlayState.PositionTicks / ticksPerMillisecond
		transcodeDecision = strings.ToLower(es.PlayState.PlayMethod)
	}

	return SessionSnapshot{
		SessionKey:        es.ID,
		UserID:            es.UserID,
		UserName:          es.UserName,
		ItemID:            item.ID,
		ItemTitle:         item.Name,
		MediaType:         item.Type,
		State:             state,
		PositionMs:        positionMs,
		DurationMs:        item.RunTimeTicks / ticksPerMillisecond,
		Transcoding:       es.TranscodingInfo != nil,
		TranscodeDecision: transcodeDecision,
		Client:            es.Client,
		DeviceID:          es.DeviceID,
		CapturedAt:        capturedAt,
		Raw:               raw,
	}, nil
}
