package activities

import (
	"context"
	"time"

	"github.com/meridianlab/orchestrator/internal/streaming"
)

// EmitResearchEvent publishes a progress event to the session's live feed.
// Streaming is fire-and-forget; this activity never fails the workflow.
func (a *Activities) EmitResearchEvent(_ context.Context, in EmitEventInput) error {
	streaming.Get().Publish(in.SessionID, streaming.Event{
		Type:      streaming.EventType(in.Type),
		AgentName: in.AgentName,
		Message:   in.Message,
		Payload:   in.Payload,
		Timestamp: time.Now(),
	})
	return nil
}
