// Package hub implements the realtime coordination layer between the lobby
// service and the world-simulation servers.
//
// World servers hold a persistent WebSocket connection into the Hub,
// authenticate with a shared secret, and register themselves under a stable
// name. The Hub tracks which named world is currently reachable and relays
// point-to-point control messages (player handoffs, reachability queries)
// to the session registered under a given name.
//
// The implementation is organized into specialized files: the wire codec,
// the per-connection session state machine, the name registry, the hub
// composition root, and the HTTP surface used by collaborators.
package hub
