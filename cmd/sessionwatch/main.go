// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

/*
main.go - Sessionwatch Server Entry Point

Wires the monitoring pipeline and runs it under a supervisor tree:

	connector (Emby REST + WebSocket, breaker + retry)
	    │
	    ├── poller   (periodic session snapshots, debounced stops)
	    └── ingestor (push event stream, reconnect backoff)
	            │
	        reconciler (sharded session state, revision arbitration)
	            │
	            ├── history writer  (Badger watch history, merge grouping)
	            └── notify dispatcher (log / webhook / bus handlers)

	status API (chi) serves live sessions, recent history, and Prometheus
	metrics on the side.

Configuration is layered: built-in defaults, then a YAML file (the
SESSIONWATCH_CONFIG path or the first default location found), then a
fixed set of environment variables (EMBY_URL, EMBY_API_KEY,
POLL_INTERVAL, NOTIFY_WEBHOOK_URL, HTTP_PORT, LOG_LEVEL, ...; see
internal/config for the full mapping). When a config file is in use it
is watched; edits to the tuning subset (poll interval, grace period,
merge gap, watched threshold, ...) apply without restart.

SIGINT or SIGTERM triggers a graceful shutdown: intake stops first so
no new observations arrive, the reconciler flushes every live session,
and the history writer and dispatcher drain their queues before the
store closes.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dgraph-io/badger/v4"

	"github.com/sessionwatch/sessionwatch/internal/api"
	"github.com/sessionwatch/sessionwatch/internal/config"
	"github.com/sessionwatch/sessionwatch/internal/connector"
	"github.com/sessionwatch/sessionwatch/internal/history"
	"github.com/sessionwatch/sessionwatch/internal/logging"
	"github.com/sessionwatch/sessionwatch/internal/notify"
	"github.com/sessionwatch/sessionwatch/internal/pipeline"
	"github.com/sessionwatch/sessionwatch/internal/reconciler"
	"github.com/sessionwatch/sessionwatch/internal/supervisor"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Sessionwatch failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version).
		Str("backend", cfg.Backend.Type).
		Msg("Starting Sessionwatch")

	policy := config.NewPolicyHolder(cfg.Policy())

	conn, err := connector.New(cfg.Backend)
	if err != nil {
		return fmt.Errorf("create backend connector: %w", err)
	}

	db, err := openHistoryDB(cfg.History)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close history store")
		}
	}()

	store := history.NewBadgerStore(db)
	writer := history.NewWriter(store, policy, cfg.History)

	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	defer bus.Close()
	dispatcher := notify.NewDispatcher(policy, cfg.Notify, buildHandlers(cfg.Notify, bus)...)

	recon := reconciler.New(cfg.Pipeline.Shards, policy, writer.Enqueue, dispatcher.Enqueue)

	poller := pipeline.NewPoller(conn, policy, recon)
	ingestor := pipeline.NewIngestor(conn, policy, recon)

	apiServer := api.NewServer(cfg.Server, api.NewHandler(recon, store, conn))

	// Suture stops services in reverse add order. Within delivery the
	// reconciler is added last so its shutdown flush reaches the writer
	// and dispatcher queues before they drain.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDeliveryService(supervisor.NewService("history-writer", supervisor.Funcs(writer.Start, writer.Stop)))
	tree.AddDeliveryService(supervisor.NewService("notify-dispatcher", supervisor.Funcs(dispatcher.Start, dispatcher.Stop)))
	tree.AddDeliveryService(supervisor.NewService("reconciler", supervisor.Funcs(recon.Start, recon.Stop)))
	tree.AddIntakeService(supervisor.NewService("session-poller", poller))
	tree.AddIntakeService(supervisor.NewService("push-ingestor", ingestor))
	tree.AddAPIService(supervisor.NewService("status-api", apiServer))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchConfig(policy)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := tree.ServeBackground(ctx)
	logging.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("Sessionwatch running")

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logging.Error().Err(err).Msg("Supervisor tree terminated")
			return err
		}
	}

	// Wait for the tree to wind down, then report anything stuck.
	for err := range errCh {
		if err != nil && err != context.Canceled {
			logging.Warn().Err(err).Msg("Service error during shutdown")
		}
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil {
		for _, svc := range report {
			logging.Warn().
				Str("service", svc.Name).
				Msg("Service did not stop within shutdown timeout")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
	return nil
}

// openHistoryDB opens the Badger database backing the watch history.
// Badger's own chatter goes through a nil logger; store-level errors
// surface via the writer's structured logs instead.
func openHistoryDB(cfg config.HistoryConfig) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	return badger.Open(opts)
}

// buildHandlers assembles the notification handler set. The log handler
// is always on; the webhook handler joins when a URL is configured; the
// bus handler publishes lifecycle events for in-process subscribers.
func buildHandlers(cfg config.NotifyConfig, bus *gochannel.GoChannel) []notify.Handler {
	handlers := []notify.Handler{notify.NewLogHandler()}
	if cfg.WebhookURL != "" {
		handlers = append(handlers, notify.NewWebhookHandler(cfg.WebhookURL, cfg.WebhookTimeout))
	}
	handlers = append(handlers, notify.NewBusHandler(bus, notify.LifecycleTopic))
	return handlers
}

// watchConfig wires hot reload of the tuning policy when a config file
// is present. Reload failures keep the previous policy.
func watchConfig(policy *config.PolicyHolder) {
	path := config.FindConfigFile()
	if path == "" {
		return
	}
	err := config.WatchConfigFile(path, func() {
		cfg, err := config.LoadFile(path)
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Config reload failed, keeping previous policy")
			return
		}
		policy.Store(cfg.Policy())
		logging.Info().Str("path", path).Msg("Tuning policy reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watch unavailable")
	} else {
		logging.Info().Str("path", path).Msg("Watching config file for policy changes")
	}
}
