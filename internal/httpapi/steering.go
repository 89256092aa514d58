package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/meridianlab/orchestrator/internal/steering"
)

type steeringRequest struct {
	Command     string   `json:"command"`
	Instruction string   `json:"instruction,omitempty"`
	Terms       []string `json:"terms,omitempty"`
}

func (h *Handler) handleSubmitSteering(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req steeringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cmd := steering.Command{
		Command:     req.Command,
		UserID:      UserID(r.Context()),
		Instruction: req.Instruction,
		Terms:       req.Terms,
	}
	if err := cmd.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.SubmitSteering(r.Context(), id, cmd); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "command": cmd.Command})
}

func (h *Handler) handleListSteering(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	events, err := h.svc.GetSteeringEvents(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
