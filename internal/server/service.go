package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/agents"
	"github.com/meridianlab/orchestrator/internal/config"
	"github.com/meridianlab/orchestrator/internal/db"
	"github.com/meridianlab/orchestrator/internal/metrics"
	"github.com/meridianlab/orchestrator/internal/steering"
	"github.com/meridianlab/orchestrator/internal/workflows"
)

var (
	// ErrSteeringClosed means the session has moved past its steering
	// window; the command is recorded but has no effect.
	ErrSteeringClosed = errors.New("steering window closed")
	// ErrEmptyQuery rejects blank research queries.
	ErrEmptyQuery = errors.New("query must not be empty")
)

// TemporalClient is the slice of the Temporal SDK client the service uses.
type TemporalClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
}

// Store is the database surface the service uses.
type Store interface {
	CreateSession(ctx context.Context, s *db.ResearchSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*db.ResearchSession, error)
	ListSessions(ctx context.Context, filter db.SessionFilter) ([]db.ResearchSession, error)
	ListTrajectorySteps(ctx context.Context, sessionID uuid.UUID) ([]db.TrajectoryStep, error)
	ListSources(ctx context.Context, sessionID uuid.UUID) ([]db.Source, error)
	ListSteeringEvents(ctx context.Context, sessionID uuid.UUID) ([]db.SteeringEvent, error)
	QueueSteeringEvent(ev *db.SteeringEvent)
}

// CommandInbox queues steering commands that arrive before the checkpoint.
type CommandInbox interface {
	Enqueue(ctx context.Context, sessionID uuid.UUID, cmd steering.Command) error
}

// Service is the application layer between the HTTP API and the workflow
// engine.
type Service struct {
	temporal TemporalClient
	store    Store
	inbox    CommandInbox
	registry *agents.Registry
	cfg      config.Source
	logger   *zap.Logger
}

// NewService wires the service. cfg is read per request so hot-reloaded
// steering windows and source limits apply to new runs without a restart.
func NewService(temporal TemporalClient, store Store, inbox CommandInbox, registry *agents.Registry, cfg config.Source, logger *zap.Logger) *Service {
	return &Service{
		temporal: temporal,
		store:    store,
		inbox:    inbox,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// StartRunRequest is the input for a new research run.
type StartRunRequest struct {
	Query   string               `json:"query"`
	UserID  string               `json:"-"`
	Options workflows.RunOptions `json:"options"`
}

// WorkflowID derives the deterministic workflow id for a session. Paired
// with the reject-duplicate reuse policy, a session id maps to at most one
// workflow run ever.
func WorkflowID(sessionID uuid.UUID) string {
	return "research-" + sessionID.String()
}

// StartRun creates the session row and launches the workflow.
func (s *Service) StartRun(ctx context.Context, req StartRunRequest) (*db.ResearchSession, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if err := s.registry.ValidNames(req.Options.Agents); err != nil {
		return nil, err
	}

	cfg := s.cfg.Current()
	opts := req.Options
	if opts.SteeringWindowSeconds <= 0 {
		opts.SteeringWindowSeconds = int(cfg.Steering.Window().Seconds())
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = cfg.Search.DefaultMaxSources
	}

	session := &db.ResearchSession{
		UserID: req.UserID,
		Query:  query,
		Status: db.StatusPending,
		Metadata: db.JSONB{
			"steering_enabled": opts.SteeringEnabled,
			"agents":           opts.Agents,
		},
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	_, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    WorkflowID(session.ID),
		TaskQueue:             workflows.TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, workflows.ResearchWorkflowName, workflows.ResearchInput{
		SessionID: session.ID.String(),
		Query:     query,
		UserID:    req.UserID,
		Options:   opts,
	})
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}

	metrics.RunsStarted.Inc()
	s.logger.Info("Research run started",
		zap.String("session_id", session.ID.String()),
		zap.String("user_id", req.UserID),
		zap.Bool("steering", opts.SteeringEnabled),
	)
	return session, nil
}

// GetSession returns the session row.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*db.ResearchSession, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions returns sessions matching the filter.
func (s *Service) ListSessions(ctx context.Context, filter db.SessionFilter) ([]db.ResearchSession, error) {
	return s.store.ListSessions(ctx, filter)
}

// GetTrajectory returns the session's audit trail in step order.
func (s *Service) GetTrajectory(ctx context.Context, id uuid.UUID) ([]db.TrajectoryStep, error) {
	return s.store.ListTrajectorySteps(ctx, id)
}

// GetSources returns the session's discovered sources.
func (s *Service) GetSources(ctx context.Context, id uuid.UUID) ([]db.Source, error) {
	return s.store.ListSources(ctx, id)
}

// GetSteeringEvents returns the session's steering audit.
func (s *Service) GetSteeringEvents(ctx context.Context, id uuid.UUID) ([]db.SteeringEvent, error) {
	return s.store.ListSteeringEvents(ctx, id)
}

// SubmitSteering routes a command by the session's current phase: signaled
// straight into an open window, queued while the run has not reached the
// checkpoint yet, or recorded as rejected once the window has passed.
func (s *Service) SubmitSteering(ctx context.Context, sessionID uuid.UUID, cmd steering.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	cmd.SubmittedAt = time.Now()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	switch session.Status {
	case db.StatusPending, db.StatusDecomposing:
		if err := s.inbox.Enqueue(ctx, sessionID, cmd); err != nil {
			return err
		}
		metrics.SteeringCommands.WithLabelValues(cmd.Command, "queued").Inc()
		return nil

	case db.StatusSteeringWait:
		if err := s.temporal.SignalWorkflow(ctx, WorkflowID(sessionID), "", workflows.SignalSteeringCommand, cmd); err != nil {
			return fmt.Errorf("signal workflow: %w", err)
		}
		metrics.SteeringCommands.WithLabelValues(cmd.Command, "signaled").Inc()
		return nil

	default:
		// Searching, synthesizing, or terminal: too late. Audit the
		// attempt through the async queue so the user can see the
		// command was received.
		s.store.QueueSteeringEvent(&db.SteeringEvent{
			SessionID: sessionID,
			UserID:    cmd.UserID,
			Command:   cmd.Command,
			Payload:   db.JSONB(cmd.Payload()),
			Applied:   false,
			AppliedAt: time.Now(),
		})
		metrics.SteeringCommands.WithLabelValues(cmd.Command, "rejected").Inc()
		return ErrSteeringClosed
	}
}
