// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/vitalsync/internal/logging"
)

// HTTPServer is the subset of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// closer is implemented by *http.Server. It drops connections that did not
// drain in time.
type closer interface {
	Close() error
}

// HTTPServerService runs the API listener under supervision.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps server. A non-positive shutdownTimeout means
// ten seconds.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. A listener that stops while ctx is still
// live is reported as a failure so suture restarts it.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	stopped := make(chan error, 1)
	go func() { stopped <- h.server.ListenAndServe() }()

	select {
	case err := <-stopped:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return errors.New("http server stopped unexpectedly")
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	if err := h.drain(); err != nil {
		return err
	}
	<-stopped
	return ctx.Err()
}

func (h *HTTPServerService) drain() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	err := h.server.Shutdown(drainCtx)
	if err == nil {
		return nil
	}
	c, ok := h.server.(closer)
	if !ok || !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	logging.Warn().Dur("timeout", h.shutdownTimeout).Msg("HTTP connections did not drain, closing them")
	if closeErr := c.Close(); closeErr != nil {
		return fmt.Errorf("http server close failed: %w", closeErr)
	}
	return nil
}

// String implements fmt.Stringer for suture's logs.
func (h *HTTPServerService) String() string {
	return "http-server"
}
