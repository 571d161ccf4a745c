// Package hub exposes the HTTP surface: the WebSocket upgrade endpoint for
// world servers and the JSON endpoints the lobby collaborator calls.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler bundles the HTTP handlers for one hub instance.
type Handler struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the HTTP surface for h.
func NewHandler(h *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	oc := newOriginChecker(h.cfg.AllowedOrigins, logger)
	return &Handler{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     oc.check,
		},
	}
}

// WebSocket upgrades a world-server connection and hands it to the hub. The
// session stays unauthenticated until it completes SERVER_CONNECT.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "WebSocket endpoint only accepts GET requests", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	h.hub.Accept(conn, r.RemoteAddr)
}

// Health is a plain liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("hub is running"))
}

// Servers answers the "list available worlds" query with a JSON array of
// currently registered names.
func (h *Handler) Servers(w http.ResponseWriter, _ *http.Request) {
	names := h.hub.ConnectedNames()
	if names == nil {
		names = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(names); err != nil {
		h.logger.Warn("writing servers response", "error", err)
	}
}

// HandoffRequest is the body of POST /handoff: the lobby asks the hub to tell
// a world server that an authenticated player is about to connect.
type HandoffRequest struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type handoffResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Handoff relays USER_CONNECTED to the named world server. Routing failures
// map to status codes rather than errors: 404 when the world is offline, 504
// when its connection is stalled.
func (h *Handler) Handoff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "handoff endpoint only accepts POST requests", http.StatusMethodNotAllowed)
		return
	}

	var req HandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, handoffResponse{Result: "rejected", Error: "invalid request body"})
		return
	}
	if req.Server == "" || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, handoffResponse{Result: "rejected", Error: "server and username are required"})
		return
	}

	env := NewEnvelope(KindUserConnected, UserConnectedData{
		Username: req.Username,
		Token:    req.Token,
	})

	switch result := h.hub.Relay(req.Server, env); result {
	case Delivered:
		h.logger.Info("handoff delivered", "server", req.Server, "username", req.Username)
		writeJSON(w, http.StatusOK, handoffResponse{Result: result.String()})
	case NotFound:
		writeJSON(w, http.StatusNotFound, handoffResponse{Result: result.String(), Error: "world offline"})
	case RelayTimeout:
		writeJSON(w, http.StatusGatewayTimeout, handoffResponse{Result: result.String(), Error: "world connection stalled"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
