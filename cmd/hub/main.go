package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fernandofader91-create/api/internal/hub"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := hub.LoadConfig()
	if err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}
	if cfg.SharedSecret == "" {
		logger.Error("HUB_SHARED_SECRET must be set; refusing to start a hub no world server could register with")
		os.Exit(1)
	}

	h := hub.New(cfg, logger)
	handler := hub.NewHandler(h, logger)
	server := hub.CreateServer(cfg.Addr, hub.SetupRoutes(handler))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hub listening", "addr", cfg.Addr)
		errCh <- hub.StartServer(server)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}

	// Stop accepting new connections first, then tear down live sessions.
	_ = hub.ShutdownServer(server, shutdownTimeout, logger)
	if err := h.Shutdown(shutdownTimeout); err != nil {
		logger.Warn("hub shutdown incomplete", "error", err)
	}
}
