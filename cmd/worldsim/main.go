// Command worldsim is a minimal stand-in for a world-simulation server: it
// registers with the hub under a name and logs every handoff it receives.
// Useful for poking at a running hub without a real game server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fernandofader91-create/api/internal/hub"
	"github.com/fernandofader91-create/api/internal/worldclient"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "hub WebSocket endpoint")
	name := flag.String("name", "Zone1", "world-server name to register under")
	token := flag.String("token", os.Getenv("HUB_SHARED_SECRET"), "shared secret (defaults to HUB_SHARED_SECRET)")
	query := flag.String("query", "", "optionally query another world's reachability after registering")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	client := worldclient.New(worldclient.Config{
		URL:   *url,
		Name:  *name,
		Token: *token,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		logger.Error("connecting to hub", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if *query != "" {
		if err := client.QueryServer(*query); err != nil {
			logger.Error("querying server", "server", *query, "error", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case env := <-client.Messages():
			logMessage(logger, env)
		case err := <-client.Errors():
			logger.Error("connection lost", "error", err)
			os.Exit(1)
		case s := <-sig:
			logger.Info("shutting down", "signal", s.String())
			return
		}
	}
}

func logMessage(logger *slog.Logger, env hub.Envelope) {
	switch env.Kind {
	case hub.KindUserConnected:
		var data hub.UserConnectedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			logger.Warn("malformed USER_CONNECTED payload", "error", err)
			return
		}
		logger.Info("player handoff received", "username", data.Username)
	case hub.KindClientConnectResult:
		var data hub.ClientConnectResultData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			logger.Warn("malformed CLIENT_CONNECT_RESULT payload", "error", err)
			return
		}
		logger.Info("reachability reply", "success", data.Success, "message", data.Message)
	default:
		logger.Info("message received", "kind", env.Kind.String())
	}
}
