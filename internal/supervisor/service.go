// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package supervisor

import (
	"context"

	"github.com/sessionwatch/sessionwatch/internal/logging"
)

// StartStopper is the lifecycle shape shared by the pipeline
// components: Start returns once running, Stop blocks until drained.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
}

// Service adapts a StartStopper to suture.Service. Serve blocks until
// the context ends, then stops the component; a Start failure is
// returned so suture restarts it with backoff.
type Service struct {
	name      string
	component StartStopper
}

// NewService wraps a component for supervision.
func NewService(name string, component StartStopper) *Service {
	return &Service{name: name, component: component}
}

func (s *Service) String() string { return s.name }

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		logging.Error().Err(err).Str("service", s.name).Msg("Service failed to start")
		return err
	}

	<-ctx.Done()
	s.component.Stop()
	return ctx.Err()
}

// Funcs builds a StartStopper from bare start and stop functions, for
// components like the reconciler whose Start cannot fail.
func Funcs(start func(), stop func()) StartStopper {
	return &funcService{start: start, stop: stop}
}

type funcService struct {
	start func()
	stop  func()
}

func (f *funcService) Start(context.Context) error {
	f.start()
	return nil
}

func (f *funcService) Stop() { f.stop() }
