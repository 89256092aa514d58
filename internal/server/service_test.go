package server

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap/zaptest"

	"github.com/meridianlab/orchestrator/internal/agents"
	"github.com/meridianlab/orchestrator/internal/config"
	"github.com/meridianlab/orchestrator/internal/db"
	"github.com/meridianlab/orchestrator/internal/steering"
	"github.com/meridianlab/orchestrator/internal/workflows"
)

type fakeTemporal struct {
	started   []client.StartWorkflowOptions
	inputs    []interface{}
	signals   []interface{}
	signalIDs []string
	execErr   error
	signalErr error
}

func (f *fakeTemporal) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.started = append(f.started, options)
	f.inputs = append(f.inputs, args...)
	return nil, nil
}

func (f *fakeTemporal) SignalWorkflow(_ context.Context, workflowID, _, _ string, arg interface{}) error {
	if f.signalErr != nil {
		return f.signalErr
	}
	f.signalIDs = append(f.signalIDs, workflowID)
	f.signals = append(f.signals, arg)
	return nil
}

type fakeServerStore struct {
	sessions map[uuid.UUID]*db.ResearchSession
	events   []*db.SteeringEvent
}

func newFakeServerStore() *fakeServerStore {
	return &fakeServerStore{sessions: map[uuid.UUID]*db.ResearchSession{}}
}

func (f *fakeServerStore) CreateSession(_ context.Context, s *db.ResearchSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	f.sessions[s.ID] = s
	return nil
}
func (f *fakeServerStore) GetSession(_ context.Context, id uuid.UUID) (*db.ResearchSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, db.ErrSessionNotFound
	}
	return s, nil
}
func (f *fakeServerStore) ListSessions(_ context.Context, _ db.SessionFilter) ([]db.ResearchSession, error) {
	return nil, nil
}
func (f *fakeServerStore) ListTrajectorySteps(_ context.Context, _ uuid.UUID) ([]db.TrajectoryStep, error) {
	return nil, nil
}
func (f *fakeServerStore) ListSources(_ context.Context, _ uuid.UUID) ([]db.Source, error) {
	return nil, nil
}
func (f *fakeServerStore) ListSteeringEvents(_ context.Context, _ uuid.UUID) ([]db.SteeringEvent, error) {
	return nil, nil
}
func (f *fakeServerStore) QueueSteeringEvent(ev *db.SteeringEvent) {
	f.events = append(f.events, ev)
}

type fakeInbox struct {
	queued []steering.Command
	err    error
}

func (f *fakeInbox) Enqueue(_ context.Context, _ uuid.UUID, cmd steering.Command) error {
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, cmd)
	return nil
}

func testService(t *testing.T, temporal *fakeTemporal, store *fakeServerStore, inbox *fakeInbox) *Service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewService(temporal, store, inbox, agents.NewRegistry(logger), config.NewStatic(config.Defaults()), logger)
}

func TestStartRunCreatesSessionAndWorkflow(t *testing.T) {
	temporal := &fakeTemporal{}
	store := newFakeServerStore()
	svc := testService(t, temporal, store, &fakeInbox{})

	session, err := svc.StartRun(context.Background(), StartRunRequest{
		Query:  "  history of RISC-V adoption  ",
		UserID: "user-1",
		Options: workflows.RunOptions{
			SteeringEnabled: true,
			Agents:          []string{agents.AgentWeb},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, session.Status)
	assert.Equal(t, "history of RISC-V adoption", session.Query)

	require.Len(t, temporal.started, 1)
	assert.Equal(t, WorkflowID(session.ID), temporal.started[0].ID)
	assert.Equal(t, workflows.TaskQueue, temporal.started[0].TaskQueue)

	require.Len(t, temporal.inputs, 1)
	input := temporal.inputs[0].(workflows.ResearchInput)
	assert.Equal(t, session.ID.String(), input.SessionID)
	assert.True(t, input.Options.SteeringEnabled)
	// Defaults filled in from config.
	assert.Equal(t, 300, input.Options.SteeringWindowSeconds)
	assert.Equal(t, 20, input.Options.MaxSources)
}

// flippableConfig swaps snapshots between calls the way the hot-reload
// manager does.
type flippableConfig struct {
	current *config.Features
}

func (f *flippableConfig) Current() *config.Features { return f.current }

func TestStartRunReadsLiveConfigSnapshot(t *testing.T) {
	temporal := &fakeTemporal{}
	store := newFakeServerStore()
	logger := zaptest.NewLogger(t)

	src := &flippableConfig{current: config.Defaults()}
	svc := NewService(temporal, store, &fakeInbox{}, agents.NewRegistry(logger), src, logger)

	_, err := svc.StartRun(context.Background(), StartRunRequest{Query: "q1"})
	require.NoError(t, err)

	reloaded := config.Defaults()
	reloaded.Steering.WindowSeconds = 90
	reloaded.Search.DefaultMaxSources = 5
	src.current = reloaded

	_, err = svc.StartRun(context.Background(), StartRunRequest{Query: "q2"})
	require.NoError(t, err)

	require.Len(t, temporal.inputs, 2)
	first := temporal.inputs[0].(workflows.ResearchInput)
	second := temporal.inputs[1].(workflows.ResearchInput)
	assert.Equal(t, 300, first.Options.SteeringWindowSeconds)
	assert.Equal(t, 90, second.Options.SteeringWindowSeconds)
	assert.Equal(t, 5, second.Options.MaxSources)
}

func TestStartRunRejectsEmptyQuery(t *testing.T) {
	svc := testService(t, &fakeTemporal{}, newFakeServerStore(), &fakeInbox{})
	_, err := svc.StartRun(context.Background(), StartRunRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestStartRunRejectsUnknownAgent(t *testing.T) {
	svc := testService(t, &fakeTemporal{}, newFakeServerStore(), &fakeInbox{})
	_, err := svc.StartRun(context.Background(), StartRunRequest{
		Query:   "q",
		Options: workflows.RunOptions{Agents: []string{"video"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
}

func TestStartRunWorkflowFailureSurfaces(t *testing.T) {
	temporal := &fakeTemporal{execErr: errors.New("temporal unavailable")}
	svc := testService(t, temporal, newFakeServerStore(), &fakeInbox{})
	_, err := svc.StartRun(context.Background(), StartRunRequest{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start workflow")
}

func seededSession(store *fakeServerStore, status string) uuid.UUID {
	id := uuid.New()
	store.sessions[id] = &db.ResearchSession{ID: id, Status: status}
	return id
}

func TestSubmitSteeringQueuesBeforeCheckpoint(t *testing.T) {
	store := newFakeServerStore()
	inbox := &fakeInbox{}
	svc := testService(t, &fakeTemporal{}, store, inbox)
	id := seededSession(store, db.StatusDecomposing)

	err := svc.SubmitSteering(context.Background(), id, steering.Command{
		Command:     steering.CommandAddSource,
		UserID:      "user-1",
		Instruction: "check the IEA report",
	})
	require.NoError(t, err)
	require.Len(t, inbox.queued, 1)
	assert.Equal(t, steering.CommandAddSource, inbox.queued[0].Command)
}

func TestSubmitSteeringSignalsOpenWindow(t *testing.T) {
	store := newFakeServerStore()
	temporal := &fakeTemporal{}
	svc := testService(t, temporal, store, &fakeInbox{})
	id := seededSession(store, db.StatusSteeringWait)

	err := svc.SubmitSteering(context.Background(), id, steering.Command{
		Command: steering.CommandContinue,
		UserID:  "user-1",
	})
	require.NoError(t, err)
	require.Len(t, temporal.signals, 1)
	assert.Equal(t, WorkflowID(id), temporal.signalIDs[0])
	cmd := temporal.signals[0].(steering.Command)
	assert.Equal(t, steering.CommandContinue, cmd.Command)
	assert.False(t, cmd.SubmittedAt.IsZero())
}

func TestSubmitSteeringAfterWindowIsRecordedRejected(t *testing.T) {
	store := newFakeServerStore()
	svc := testService(t, &fakeTemporal{}, store, &fakeInbox{})
	id := seededSession(store, db.StatusSynthesizing)

	err := svc.SubmitSteering(context.Background(), id, steering.Command{
		Command: steering.CommandForceStop,
		UserID:  "user-1",
	})
	assert.ErrorIs(t, err, ErrSteeringClosed)
	require.Len(t, store.events, 1)
	assert.False(t, store.events[0].Applied)
	assert.Equal(t, steering.CommandForceStop, store.events[0].Command)
}

func TestSubmitSteeringValidatesCommand(t *testing.T) {
	store := newFakeServerStore()
	svc := testService(t, &fakeTemporal{}, store, &fakeInbox{})
	id := seededSession(store, db.StatusSteeringWait)

	err := svc.SubmitSteering(context.Background(), id, steering.Command{Command: "rewind"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown steering command")
}

func TestSubmitSteeringUnknownSession(t *testing.T) {
	svc := testService(t, &fakeTemporal{}, newFakeServerStore(), &fakeInbox{})
	err := svc.SubmitSteering(context.Background(), uuid.New(), steering.Command{Command: steering.CommandContinue})
	assert.ErrorIs(t, err, db.ErrSessionNotFound)
}
