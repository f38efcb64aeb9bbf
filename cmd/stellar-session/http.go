package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-mpdsession/internal/domain/player"
	"github.com/edumarques81/stellar-mpdsession/internal/infra/mpd"
	"github.com/edumarques81/stellar-mpdsession/internal/version"
)

// sessionStatus is the read-only view of the engine the HTTP API needs.
type sessionStatus interface {
	State() mpd.ConnectionState
	ServerVersion() string
	Pending() int
}

// newRouter builds the HTTP API around the Socket.io handler.
func newRouter(session sessionStatus, playerService *player.Service, socketHandler http.Handler, origin string) http.Handler {
	mux := http.NewServeMux()

	// Socket.io endpoint
	mux.Handle("/socket.io/", socketHandler)

	// Health check: 503 until the MPD session is up
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		state := session.State()
		body := map[string]interface{}{
			"status":  "ok",
			"mpd":     state.String(),
			"pending": session.Pending(),
		}
		code := http.StatusOK
		if state == mpd.StateConnected {
			body["version"] = session.ServerVersion()
		} else {
			body["status"] = "error"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, body)
	})

	// Version endpoint
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version.GetInfo().WithServer(session.ServerVersion()))
	})

	// Basic state endpoint (REST fallback)
	mux.HandleFunc("/api/v1/getState", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, playerService.GetState())
	})

	mux.HandleFunc("/api/v1/getQueue", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, playerService.GetQueue())
	})

	return corsMiddleware(origin, mux)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// corsMiddleware sets CORS headers on every response, errors included, so the
// UI served from another port can read them.
func corsMiddleware(origin string, next http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
