// Package server exposes the relay's HTTP handlers: the WebSocket upgrade,
// the presence query, and the health check.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler wires the hub into the HTTP surface.
type Handler struct {
	hub      *Hub
	origins  *originPolicy
	wsCfg    WebSocketConfig
	rlCfg    RateLimitConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler builds the HTTP handler set for a hub, applying the configured
// origin allowlist to upgrades and CORS alike.
func NewHandler(hub *Hub, cfg *Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:     hub,
		origins: newOriginPolicy(cfg.Server.AllowedOrigins, logger),
		wsCfg:   cfg.WebSocket,
		rlCfg:   cfg.RateLimit,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.origins.checkRequest(r) {
		return true
	}
	h.logger.Warn().
		Str("origin", r.Header.Get("Origin")).
		Msg("blocked websocket upgrade from disallowed origin")
	return false
}

// ServeWS upgrades the connection, assigns it an opaque identifier, and hands
// it to the hub.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, r.RemoteAddr, h.wsCfg, h.rlCfg, h.logger)
	if !h.hub.Register(client) {
		h.logger.Warn().Str("client_id", client.ID).Msg("rejecting connection during shutdown")
		if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Debug().Err(err).Msg("closing rejected connection")
		}
	}
}

type healthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Health reports that the server is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, healthStatus{Status: "Server is running", Timestamp: serverNow()})
}

// Users returns the current participant snapshot from the session registry.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, h.hub.Participants())
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("writing json response")
	}
}

// cors enforces the origin allowlist on plain HTTP routes. Requests without
// an Origin header (curl, probes) pass through; browser requests from origins
// off the allowlist get a 403.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !h.origins.allows(origin) {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLog logs completed requests on the plain HTTP routes.
func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		h.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Float64("latency_ms", float64(time.Since(start).Milliseconds())).
			Msg("request completed")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
