package health

import (
	"encoding/json"
	"net/http"
)

// RegisterHandlers mounts liveness, readiness, and detail endpoints.
func (m *Manager) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", m.handleLive)
	mux.HandleFunc("GET /health/ready", m.handleReady)
	mux.HandleFunc("GET /health/details", m.handleDetails)
}

// handleLive always succeeds while the process serves HTTP.
func (m *Manager) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (m *Manager) handleReady(w http.ResponseWriter, _ *http.Request) {
	snap := m.Snapshot()
	code := http.StatusOK
	if !snap.Ready {
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, map[string]interface{}{
		"status": snap.Status.String(),
		"ready":  snap.Ready,
	})
}

func (m *Manager) handleDetails(w http.ResponseWriter, _ *http.Request) {
	snap := m.Snapshot()
	code := http.StatusOK
	if !snap.Ready {
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, snap)
}

func writeStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
