package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/db"
	"github.com/meridianlab/orchestrator/internal/server"
	"github.com/meridianlab/orchestrator/internal/streaming"
)

// Handler serves the research HTTP API.
type Handler struct {
	svc     *server.Service
	streams *streaming.Manager
	auth    *Authenticator
	logger  *zap.Logger
}

// NewHandler wires the API handler.
func NewHandler(svc *server.Service, streams *streaming.Manager, auth *Authenticator, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, streams: streams, auth: auth, logger: logger}
}

// Register mounts the API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/v1/research", h.auth.Middleware(http.HandlerFunc(h.handleStartResearch)))
	mux.Handle("GET /api/v1/research", h.auth.Middleware(http.HandlerFunc(h.handleListSessions)))
	mux.Handle("GET /api/v1/research/{id}", h.auth.Middleware(http.HandlerFunc(h.handleGetSession)))
	mux.Handle("GET /api/v1/research/{id}/trajectory", h.auth.Middleware(http.HandlerFunc(h.handleGetTrajectory)))
	mux.Handle("GET /api/v1/research/{id}/sources", h.auth.Middleware(http.HandlerFunc(h.handleGetSources)))
	mux.Handle("GET /api/v1/research/{id}/report", h.auth.Middleware(http.HandlerFunc(h.handleGetReport)))
	mux.Handle("GET /api/v1/research/{id}/steering", h.auth.Middleware(http.HandlerFunc(h.handleListSteering)))
	mux.Handle("POST /api/v1/research/{id}/steering", h.auth.Middleware(http.HandlerFunc(h.handleSubmitSteering)))
	mux.Handle("GET /api/v1/research/{id}/events", h.auth.Middleware(http.HandlerFunc(h.handleEventStream)))
	mux.Handle("GET /api/v1/research/{id}/ws", h.auth.Middleware(http.HandlerFunc(h.handleWebSocket)))
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// mapError translates service errors to HTTP statuses.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, server.ErrSteeringClosed):
		writeError(w, http.StatusConflict, "steering window closed")
	case errors.Is(err, server.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
