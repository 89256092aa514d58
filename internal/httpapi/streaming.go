package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/streaming"
)

// handleEventStream serves the session's progress feed as SSE. The
// Last-Event-ID header (or last_event_id query param) replays buffered
// events past that sequence number; the types query param filters by
// comma-separated event types.
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	filter := typeFilter(r.URL.Query().Get("types"))
	sessionID := id.String()

	// Subscribe before replay so no event falls into the gap.
	ch := h.streams.Subscribe(sessionID, 64)
	defer h.streams.Unsubscribe(sessionID, ch)

	// sent tracks the highest sequence delivered so the replay and the
	// live channel never hand the client the same event twice.
	var sent uint64
	seenAny := false

	lastSeq, replay := lastEventID(r)
	if replay {
		sent, seenAny = lastSeq, true
		for _, evt := range h.streams.ReplaySince(sessionID, lastSeq) {
			if writeSSE(w, evt, filter) {
				flusher.Flush()
			}
			sent = evt.Seq
		}
	}
	flusher.Flush()

	h.logger.Debug("SSE subscriber connected", zap.String("session_id", sessionID))

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			if seenAny && evt.Seq <= sent {
				continue
			}
			sent, seenAny = evt.Seq, true
			if writeSSE(w, evt, filter) {
				flusher.Flush()
			}
		}
	}
}

// writeSSE emits one SSE frame when the event passes the filter.
func writeSSE(w http.ResponseWriter, evt streaming.Event, filter map[streaming.EventType]bool) bool {
	if filter != nil && !filter[evt.Type] {
		return false
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, evt.Marshal())
	return true
}

// typeFilter parses the comma-separated types param; nil means no filter.
func typeFilter(raw string) map[streaming.EventType]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[streaming.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			filter[streaming.EventType(t)] = true
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

// lastEventID reads the SSE reconnect cursor.
func lastEventID(r *http.Request) (uint64, bool) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0, false
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
