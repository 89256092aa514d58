package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/db"
	"github.com/meridianlab/orchestrator/internal/metrics"
	"github.com/meridianlab/orchestrator/internal/pricing"
	"github.com/meridianlab/orchestrator/internal/steering"
)

// SessionStore is the database surface the persistence activities need.
type SessionStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*db.ResearchSession, error)
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, status string) error
	AddSessionUsage(ctx context.Context, id uuid.UUID, promptTokens, completionTokens int, costUSD float64) error
	CompleteSession(ctx context.Context, id uuid.UUID, report string, completedAt time.Time) error
	FailSession(ctx context.Context, id uuid.UUID, failedStep, message string, failedAt time.Time) error
	QueueSource(src *db.Source)
	InsertSteeringEvent(ctx context.Context, ev *db.SteeringEvent) error
}

// RecordTrajectoryStep appends one audit step. The write is best-effort via
// the recorder; the activity itself only fails on a malformed session id.
// Token counts on the step also accumulate onto the session totals with
// their priced cost.
func (a *Activities) RecordTrajectoryStep(ctx context.Context, in RecordStepInput) error {
	sessionID, err := uuid.Parse(in.SessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}

	a.recorder.Record(ctx, &db.TrajectoryStep{
		SessionID:        sessionID,
		StepNumber:       in.StepNumber,
		StepName:         in.StepName,
		AgentName:        in.AgentName,
		Input:            db.JSONB(in.Input),
		Output:           db.JSONB(in.Output),
		ModelUsed:        in.ModelUsed,
		ProviderUsed:     in.ProviderUsed,
		PromptTokens:     in.PromptTokens,
		CompletionTokens: in.CompletionTokens,
		StartedAt:        in.StartedAt,
		CompletedAt:      in.CompletedAt,
		Status:           in.Status,
		ErrorMessage:     in.ErrorMessage,
	})

	if in.StepName == StepNameSteering {
		if outcome, ok := in.Output["outcome"].(string); ok {
			metrics.SteeringWaitOutcome.WithLabelValues(outcome).Inc()
		}
	}

	if in.PromptTokens > 0 || in.CompletionTokens > 0 {
		cost := pricing.CostUSD(in.ModelUsed, in.PromptTokens, in.CompletionTokens)
		if err := a.sessions.AddSessionUsage(ctx, sessionID, in.PromptTokens, in.CompletionTokens, cost); err != nil {
			a.logger.Warn("Failed to accumulate session usage",
				zap.String("session_id", in.SessionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// UpdateSessionStatus advances the session row.
func (a *Activities) UpdateSessionStatus(ctx context.Context, in UpdateStatusInput) error {
	sessionID, err := uuid.Parse(in.SessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}
	return a.sessions.UpdateSessionStatus(ctx, sessionID, in.Status)
}

// CompleteSession finalizes a successful run.
func (a *Activities) CompleteSession(ctx context.Context, in CompleteSessionInput) error {
	sessionID, err := uuid.Parse(in.SessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}
	if err := a.sessions.CompleteSession(ctx, sessionID, in.Report, time.Now()); err != nil {
		return err
	}
	metrics.RunsCompleted.WithLabelValues(db.StatusCompleted).Inc()
	if in.DurationSeconds > 0 {
		metrics.RunDuration.Observe(in.DurationSeconds)
	}
	if session, err := a.sessions.GetSession(ctx, sessionID); err == nil {
		metrics.RunCostUSD.Observe(session.TotalCostUSD)
	}
	return nil
}

// FailSession finalizes a failed run with the causing step.
func (a *Activities) FailSession(ctx context.Context, in FailSessionInput) error {
	sessionID, err := uuid.Parse(in.SessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}
	if err := a.sessions.FailSession(ctx, sessionID, in.FailedStep, in.Message, time.Now()); err != nil {
		return err
	}
	metrics.RunsCompleted.WithLabelValues(db.StatusFailed).Inc()
	if in.DurationSeconds > 0 {
		metrics.RunDuration.Observe(in.DurationSeconds)
	}
	return nil
}

// PersistSources hands the run's discovered sources to the async write
// queue. Sources are supplementary to the trajectory record, so the
// activity never blocks on or fails from the inserts themselves.
func (a *Activities) PersistSources(_ context.Context, in PersistSourcesInput) error {
	if len(in.Sources) == 0 {
		return nil
	}
	sessionID, err := uuid.Parse(in.SessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}

	now := time.Now()
	for _, s := range in.Sources {
		a.sessions.QueueSource(&db.Source{
			SessionID:    sessionID,
			URL:          s.URL,
			Title:        s.Title,
			Snippet:      s.Snippet,
			Kind:         s.Kind,
			AgentName:    s.AgentName,
			Relevance:    s.Relevance,
			DiscoveredAt: now,
			Metadata:     db.JSONB(s.Metadata),
		})
	}
	return nil
}

// RecordSteeringEvent audits one steering command. Applied and unapplied
// commands both get a row; the applied flag is the distinction.
func (a *Activities) RecordSteeringEvent(ctx context.Context, in RecordSteeringEventInput) error {
	sessionID, err := uuid.Parse(in.SessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}

	disposition := "rejected"
	if in.Applied {
		disposition = "applied"
	}
	metrics.SteeringCommands.WithLabelValues(in.Command, disposition).Inc()

	return a.sessions.InsertSteeringEvent(ctx, &db.SteeringEvent{
		SessionID:  sessionID,
		UserID:     in.UserID,
		Command:    in.Command,
		Payload:    db.JSONB(in.Payload),
		Applied:    in.Applied,
		StepNumber: in.StepNumber,
		AppliedAt:  time.Now(),
	})
}

// FetchPendingSteering drains commands queued before the steering window
// opened, in submission order.
func (a *Activities) FetchPendingSteering(ctx context.Context, in FetchPendingSteeringInput) ([]steering.Command, error) {
	sessionID, err := uuid.Parse(in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	return a.inbox.Drain(ctx, sessionID)
}
