// MetricBridge - Analytics Property Sync and Aggregation Engine
// Copyright 2026 M. Brandt (metricbridge)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricbridge/metricbridge

package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/metricbridge/metricbridge/internal/logging"
)

// OpsServerService runs the ops HTTP server (health, readiness, metrics,
// manual sync trigger) as a supervised service.
type OpsServerService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewOpsServerService wraps an http.Server for supervision.
func NewOpsServerService(server *http.Server) *OpsServerService {
	return &OpsServerService{server: server, shutdownTimeout: 10 * time.Second}
}

// Serve implements suture.Service. Listens until the context is canceled,
// then shuts down gracefully.
func (s *OpsServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.server.Addr).Msg("Ops server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Ops server shutdown failed")
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture log messages.
func (s *OpsServerService) String() string {
	return "ops-server"
}
