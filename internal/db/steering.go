package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertSteeringEvent appends one steering intervention record. Applied is
// false for commands that arrived too late or could not be delivered.
func (c *Client) InsertSteeringEvent(ctx context.Context, ev *SteeringEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.AppliedAt.IsZero() {
		ev.AppliedAt = time.Now()
	}

	query := `
		INSERT INTO steering_events (
			id, session_id, user_id, command, payload, applied, step_number, applied_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if err := c.exec(ctx, query,
		ev.ID, ev.SessionID, ev.UserID, ev.Command, ev.Payload,
		ev.Applied, ev.StepNumber, ev.AppliedAt,
	); err != nil {
		return fmt.Errorf("insert steering event: %w", err)
	}
	return nil
}

// ListSteeringEvents returns all steering events for a session in arrival order.
func (c *Client) ListSteeringEvents(ctx context.Context, sessionID uuid.UUID) ([]SteeringEvent, error) {
	var events []SteeringEvent
	query := `SELECT * FROM steering_events WHERE session_id = $1 ORDER BY applied_at ASC`
	if err := c.selectAll(ctx, &events, query, sessionID); err != nil {
		return nil, fmt.Errorf("list steering events: %w", err)
	}
	return events, nil
}
