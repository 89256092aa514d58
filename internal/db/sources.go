package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertSource appends one discovered source.
func (c *Client) InsertSource(ctx context.Context, src *Source) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.DiscoveredAt.IsZero() {
		src.DiscoveredAt = time.Now()
	}

	query := `
		INSERT INTO sources (
			id, session_id, url, title, snippet, kind, agent_name,
			relevance, discovered_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if err := c.exec(ctx, query,
		src.ID, src.SessionID, src.URL, src.Title, src.Snippet, src.Kind,
		src.AgentName, src.Relevance, src.DiscoveredAt, src.Metadata,
	); err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// ListSources returns all sources for a session, highest relevance first.
func (c *Client) ListSources(ctx context.Context, sessionID uuid.UUID) ([]Source, error) {
	var sources []Source
	query := `SELECT * FROM sources WHERE session_id = $1 ORDER BY relevance DESC, discovered_at ASC`
	if err := c.selectAll(ctx, &sources, query, sessionID); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}
