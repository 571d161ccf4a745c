// Package hub constructs and starts the HTTP service carrying the hub's
// endpoints, with helpers for graceful shutdown.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer creates an HTTP server with the given address and handler.
// The read/write timeouts apply to plain HTTP requests; upgraded WebSocket
// connections are hijacked and governed by the session deadlines instead.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it exits.
func StartServer(server *http.Server) error {
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server, waiting for in-flight
// requests up to the timeout.
func ShutdownServer(server *http.Server, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown", "error", err)
		return err
	}

	logger.Info("http server shutdown complete")
	return nil
}
