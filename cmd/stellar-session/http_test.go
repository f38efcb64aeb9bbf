package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edumarques81/stellar-mpdsession/internal/domain/player"
	"github.com/edumarques81/stellar-mpdsession/internal/infra/mpd"
)

type fakeSession struct {
	state   mpd.ConnectionState
	version string
	pending int
}

func (f fakeSession) State() mpd.ConnectionState { return f.state }
func (f fakeSession) ServerVersion() string      { return f.version }
func (f fakeSession) Pending() int               { return f.pending }

type nopEngine struct{}

func (nopEngine) Enqueue(mpd.Command) bool { return true }

func newTestRouter(session sessionStatus, origin string) http.Handler {
	socket := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return newRouter(session, player.NewService(nopEngine{}), socket, origin)
}

func TestCORSHeaders(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"default", "", "*"},
		{"wildcard", "*", "*"},
		{"fixed origin", "http://stellar.local:5173", "http://stellar.local:5173"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(fakeSession{state: mpd.StateConnected}, tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/version", nil))

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
			if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
				t.Errorf("unexpected Allow-Methods %q", got)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(fakeSession{}, "*")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/socket.io/", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
}

func TestCORSOnErrorResponses(t *testing.T) {
	h := newTestRouter(fakeSession{state: mpd.StateConnecting}, "*")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing on error response")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		session fakeSession
		code    int
		status  string
		mpd     string
	}{
		{"connected", fakeSession{state: mpd.StateConnected, version: "0.23.5", pending: 2}, http.StatusOK, "ok", "connected"},
		{"disconnected", fakeSession{state: mpd.StateDisconnected}, http.StatusServiceUnavailable, "error", "disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestRouter(tt.session, "*").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body["status"] != tt.status || body["mpd"] != tt.mpd {
				t.Errorf("unexpected body %v", body)
			}
			if body["pending"] != float64(tt.session.pending) {
				t.Errorf("unexpected pending %v", body["pending"])
			}
			if tt.session.version != "" && body["version"] != tt.session.version {
				t.Errorf("unexpected version %v", body["version"])
			}
		})
	}
}

func TestRouterRoutes(t *testing.T) {
	h := newTestRouter(fakeSession{state: mpd.StateConnected}, "*")

	tests := []struct {
		path string
		code int
	}{
		{"/socket.io/?EIO=4", http.StatusTeapot},
		{"/api/v1/version", http.StatusOK},
		{"/api/v1/getState", http.StatusOK},
		{"/api/v1/getQueue", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, rec.Code)
		}
	}
}

func TestVersionReportsServer(t *testing.T) {
	h := newTestRouter(fakeSession{state: mpd.StateConnected, version: "0.22.0"}, "*")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/version", nil))

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["mpd"] != "0.22.0" {
		t.Errorf("expected server version in payload, got %v", body)
	}
}
