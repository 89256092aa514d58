package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/db"
	"github.com/meridianlab/orchestrator/internal/server"
	"github.com/meridianlab/orchestrator/internal/workflows"
)

type startResearchRequest struct {
	Query   string               `json:"query"`
	Options workflows.RunOptions `json:"options"`
}

func (h *Handler) handleStartResearch(w http.ResponseWriter, r *http.Request) {
	var req startResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.svc.StartRun(r.Context(), server.StartRunRequest{
		Query:   req.Query,
		UserID:  UserID(r.Context()),
		Options: req.Options,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	h.logger.Info("Research session created",
		zap.String("session_id", session.ID.String()),
	)
	writeJSON(w, http.StatusAccepted, session)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := db.SessionFilter{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = &v
	}
	userID := UserID(r.Context())
	filter.UserID = &userID

	sessions, err := h.svc.ListSessions(r.Context(), filter)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	session, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleGetTrajectory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	steps, err := h.svc.GetTrajectory(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

func (h *Handler) handleGetSources(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	sources, err := h.svc.GetSources(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

// handleGetReport serves the final report. Markdown by default; JSON when
// the Accept header asks for it.
func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	session, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	if session.Report == nil {
		writeError(w, http.StatusConflict, "report not ready")
		return
	}

	if r.Header.Get("Accept") == "application/json" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"session_id": session.ID,
			"report":     *session.Report,
			"status":     session.Status,
		})
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(*session.Report))
}
