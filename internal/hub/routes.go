// Package hub wires the HTTP handlers into a ServeMux.
package hub

import "net/http"

// SetupRoutes configures and returns a ServeMux with all hub routes: health
// check, the world-server WebSocket endpoint, and the collaborator API.
func SetupRoutes(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/ws", h.WebSocket)
	mux.HandleFunc("/servers", h.Servers)
	mux.HandleFunc("/handoff", h.Handoff)
	return mux
}
