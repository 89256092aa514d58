package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when no session row matches the id.
var ErrSessionNotFound = errors.New("session not found")

// CreateSession inserts a new pending session row.
func (c *Client) CreateSession(ctx context.Context, s *ResearchSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = s.CreatedAt
	}
	if s.Status == "" {
		s.Status = StatusPending
	}

	query := `
		INSERT INTO research_sessions (
			id, user_id, query, status, started_at, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if err := c.exec(ctx, query,
		s.ID, s.UserID, s.Query, s.Status, s.StartedAt, s.Metadata, s.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession fetches a session row by id.
func (c *Client) GetSession(ctx context.Context, id uuid.UUID) (*ResearchSession, error) {
	var s ResearchSession
	query := `SELECT * FROM research_sessions WHERE id = $1`
	if err := c.get(ctx, &s, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// UpdateSessionStatus advances the session status. Terminal rows are
// immutable; the WHERE clause refuses to move a session out of a terminal
// status so replays and races cannot resurrect finished runs.
func (c *Client) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `
		UPDATE research_sessions
		SET status = $2
		WHERE id = $1 AND status NOT IN ($3, $4)`
	if err := c.exec(ctx, query, id, status, StatusCompleted, StatusFailed); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// AddSessionUsage accumulates token and cost counters on the session row.
func (c *Client) AddSessionUsage(ctx context.Context, id uuid.UUID, promptTokens, completionTokens int, costUSD float64) error {
	query := `
		UPDATE research_sessions
		SET prompt_tokens = prompt_tokens + $2,
		    completion_tokens = completion_tokens + $3,
		    total_tokens = total_tokens + $2 + $3,
		    total_cost_usd = total_cost_usd + $4
		WHERE id = $1`
	if err := c.exec(ctx, query, id, promptTokens, completionTokens, costUSD); err != nil {
		return fmt.Errorf("add session usage: %w", err)
	}
	return nil
}

// CompleteSession marks the session completed with its final report.
func (c *Client) CompleteSession(ctx context.Context, id uuid.UUID, report string, completedAt time.Time) error {
	query := `
		UPDATE research_sessions
		SET status = $2, report = $3, completed_at = $4
		WHERE id = $1 AND status NOT IN ($5, $6)`
	if err := c.exec(ctx, query, id, StatusCompleted, report, completedAt, StatusCompleted, StatusFailed); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// FailSession marks the session failed with the causing step and message.
func (c *Client) FailSession(ctx context.Context, id uuid.UUID, failedStep, message string, failedAt time.Time) error {
	query := `
		UPDATE research_sessions
		SET status = $2, failed_step = $3, error_message = $4, completed_at = $5
		WHERE id = $1 AND status NOT IN ($6, $7)`
	if err := c.exec(ctx, query, id, StatusFailed, failedStep, message, failedAt, StatusCompleted, StatusFailed); err != nil {
		return fmt.Errorf("fail session: %w", err)
	}
	return nil
}

// ListSessions returns session rows matching the filter, newest first.
func (c *Client) ListSessions(ctx context.Context, filter SessionFilter) ([]ResearchSession, error) {
	query := `SELECT * FROM research_sessions WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, *filter.UserID)
		idx++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, *filter.Status)
		idx++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
		idx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, filter.Offset)
	}

	var sessions []ResearchSession
	if err := c.selectAll(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
