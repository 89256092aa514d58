package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertTrajectoryStep appends one step record. Steps are write-once; the
// unique (session_id, step_number) index turns an accidental reuse into a
// conflict instead of a silent overwrite.
func (c *Client) InsertTrajectoryStep(ctx context.Context, step *TrajectoryStep) error {
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	if step.LatencyMs == 0 && !step.CompletedAt.IsZero() && !step.StartedAt.IsZero() {
		step.LatencyMs = step.CompletedAt.Sub(step.StartedAt).Milliseconds()
	}

	query := `
		INSERT INTO trajectory_steps (
			id, session_id, step_number, step_name, agent_name,
			input, output, model_used, provider_used,
			prompt_tokens, completion_tokens,
			started_at, completed_at, latency_ms,
			status, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)`
	if err := c.exec(ctx, query,
		step.ID, step.SessionID, step.StepNumber, step.StepName, step.AgentName,
		step.Input, step.Output, step.ModelUsed, step.ProviderUsed,
		step.PromptTokens, step.CompletionTokens,
		step.StartedAt, step.CompletedAt, step.LatencyMs,
		step.Status, step.ErrorMessage, step.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert trajectory step: %w", err)
	}
	return nil
}

// ListTrajectorySteps returns all steps for a session in step order.
func (c *Client) ListTrajectorySteps(ctx context.Context, sessionID uuid.UUID) ([]TrajectoryStep, error) {
	var steps []TrajectoryStep
	query := `SELECT * FROM trajectory_steps WHERE session_id = $1 ORDER BY step_number ASC`
	if err := c.selectAll(ctx, &steps, query, sessionID); err != nil {
		return nil, fmt.Errorf("list trajectory steps: %w", err)
	}
	return steps, nil
}
