// Package server wires the relay's HTTP surface into a ServeMux.
package server

import "net/http"

// Routes configures and returns the application's ServeMux: the WebSocket
// endpoint and the two query endpoints. The upgrade path is left unwrapped so
// the connection can be hijacked.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	mux.Handle("/api/users", h.requestLog(h.cors(http.HandlerFunc(h.Users))))
	mux.Handle("/api/health", h.requestLog(h.cors(http.HandlerFunc(h.Health))))
	return mux
}
