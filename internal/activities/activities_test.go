package activities

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianlab/orchestrator/internal/agents"
	"github.com/meridianlab/orchestrator/internal/db"
	"github.com/meridianlab/orchestrator/internal/modelgateway"
	"github.com/meridianlab/orchestrator/internal/steering"
	"github.com/meridianlab/orchestrator/internal/trajectory"
)

type fakeGateway struct {
	text string
	err  error
	last string
}

func (f *fakeGateway) Generate(_ context.Context, prompt string, _ modelgateway.Purpose, _ modelgateway.Options) (*modelgateway.Result, error) {
	f.last = prompt
	if f.err != nil {
		return nil, f.err
	}
	return &modelgateway.Result{
		Text:     f.text,
		Usage:    modelgateway.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		Provider: "local",
		Model:    "test-model",
	}, nil
}

type fakeAgent struct {
	name    string
	kind    string
	results []agents.Result
	err     error
	queries []string
}

func (f *fakeAgent) Name() string { return f.name }
func (f *fakeAgent) Kind() string { return f.kind }
func (f *fakeAgent) Search(_ context.Context, subQueries []string, maxResults int) ([]agents.Result, error) {
	f.queries = subQueries
	return f.results, f.err
}

type fakeSessions struct {
	statuses      []string
	usagePrompt   int
	usageComplete int
	usageCost     float64
	completed     bool
	failedStep    string
	sources       []*db.Source
	events        []*db.SteeringEvent
	steps         []*db.TrajectoryStep
}

func (f *fakeSessions) GetSession(_ context.Context, id uuid.UUID) (*db.ResearchSession, error) {
	return &db.ResearchSession{ID: id, TotalCostUSD: f.usageCost}, nil
}
func (f *fakeSessions) UpdateSessionStatus(_ context.Context, _ uuid.UUID, status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}
func (f *fakeSessions) AddSessionUsage(_ context.Context, _ uuid.UUID, p, c int, cost float64) error {
	f.usagePrompt += p
	f.usageComplete += c
	f.usageCost += cost
	return nil
}
func (f *fakeSessions) CompleteSession(_ context.Context, _ uuid.UUID, _ string, _ time.Time) error {
	f.completed = true
	return nil
}
func (f *fakeSessions) FailSession(_ context.Context, _ uuid.UUID, step, _ string, _ time.Time) error {
	f.failedStep = step
	return nil
}
func (f *fakeSessions) QueueSource(src *db.Source) {
	f.sources = append(f.sources, src)
}
func (f *fakeSessions) InsertSteeringEvent(_ context.Context, ev *db.SteeringEvent) error {
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeSessions) InsertTrajectoryStep(_ context.Context, step *db.TrajectoryStep) error {
	f.steps = append(f.steps, step)
	return nil
}
func (f *fakeSessions) ListTrajectorySteps(_ context.Context, _ uuid.UUID) ([]db.TrajectoryStep, error) {
	return nil, nil
}

func testActivities(t *testing.T, gw *fakeGateway, agent *fakeAgent, store *fakeSessions) *Activities {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := agents.NewRegistry(logger)
	if agent != nil {
		registry.Register(agent)
	}
	return NewActivities(gw, registry, store, trajectory.NewRecorder(store, logger), nil, logger)
}

func TestDecomposeParsesWrappedJSON(t *testing.T) {
	gw := &fakeGateway{text: "Here is the plan:\n```json\n{\"sub_queries\": [\"q one\", \"q two\", \" \"], \"rationale\": \"split by aspect\"}\n```"}
	a := testActivities(t, gw, nil, &fakeSessions{})

	res, err := a.Decompose(context.Background(), DecomposeInput{SessionID: uuid.NewString(), Query: "what is x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"q one", "q two"}, res.SubQueries)
	assert.Equal(t, "split by aspect", res.Rationale)
	assert.Equal(t, "local", res.Provider)
	assert.Equal(t, 30, res.Usage.TotalTokens)
}

func TestDecomposeCapsSubQueries(t *testing.T) {
	gw := &fakeGateway{text: `{"sub_queries": ["1","2","3","4","5","6","7"]}`}
	a := testActivities(t, gw, nil, &fakeSessions{})

	res, err := a.Decompose(context.Background(), DecomposeInput{SessionID: uuid.NewString(), Query: "q"})
	require.NoError(t, err)
	assert.Len(t, res.SubQueries, maxSubQueries)
}

func TestDecomposeRejectsGarbage(t *testing.T) {
	gw := &fakeGateway{text: "I cannot help with that."}
	a := testActivities(t, gw, nil, &fakeSessions{})

	_, err := a.Decompose(context.Background(), DecomposeInput{SessionID: uuid.NewString(), Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable")
}

func TestExecuteSearchAgentAppliesDirectives(t *testing.T) {
	agent := &fakeAgent{
		name: "stub",
		kind: db.SourceWeb,
		results: []agents.Result{
			{URL: "https://a", Title: "Kept result", Snippet: "fine", Relevance: 0.9},
			{URL: "https://b", Title: "All about cryptocurrency", Snippet: "coins", Relevance: 0.8},
		},
	}
	a := testActivities(t, &fakeGateway{}, agent, &fakeSessions{})

	res, err := a.ExecuteSearchAgent(context.Background(), SearchAgentInput{
		SessionID:  uuid.NewString(),
		AgentName:  "stub",
		SubQueries: []string{"base query"},
		Directives: steering.Directives{
			AddedSources:   []string{"also check example.org"},
			ExcludedTopics: []string{"cryptocurrency"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"base query", "also check example.org"}, agent.queries)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "https://a", res.Sources[0].URL)
	assert.Equal(t, db.SourceWeb, res.Sources[0].Kind)
	assert.Equal(t, "stub", res.Sources[0].AgentName)
}

func TestExecuteSearchAgentPropagatesFailure(t *testing.T) {
	agent := &fakeAgent{name: "stub", kind: db.SourceWeb, err: errors.New("upstream down")}
	a := testActivities(t, &fakeGateway{}, agent, &fakeSessions{})

	_, err := a.ExecuteSearchAgent(context.Background(), SearchAgentInput{
		SessionID:  uuid.NewString(),
		AgentName:  "stub",
		SubQueries: []string{"q"},
	})
	require.Error(t, err)
}

func TestExecuteSearchAgentUnknownAgent(t *testing.T) {
	a := testActivities(t, &fakeGateway{}, nil, &fakeSessions{})
	_, err := a.ExecuteSearchAgent(context.Background(), SearchAgentInput{
		SessionID: uuid.NewString(),
		AgentName: "missing",
	})
	require.Error(t, err)
}

func TestSynthesizeRejectsEmptyReport(t *testing.T) {
	a := testActivities(t, &fakeGateway{text: "  "}, nil, &fakeSessions{})
	_, err := a.Synthesize(context.Background(), SynthesisInput{SessionID: uuid.NewString(), Query: "q"})
	require.Error(t, err)
}

func TestSynthesizePromptCarriesDirectives(t *testing.T) {
	gw := &fakeGateway{text: "# Report"}
	a := testActivities(t, gw, nil, &fakeSessions{})

	_, err := a.Synthesize(context.Background(), SynthesisInput{
		SessionID: uuid.NewString(),
		Query:     "state of fusion power",
		Directives: steering.Directives{
			DirectionChanges: []string{"focus on tokamaks"},
			ExcludedTopics:   []string{"cold fusion"},
			ForceStopped:     true,
		},
		Sources: []SourceResult{{URL: "https://a", Title: "T", Snippet: "s", Kind: db.SourceWeb}},
	})
	require.NoError(t, err)
	assert.Contains(t, gw.last, "focus on tokamaks")
	assert.Contains(t, gw.last, "cold fusion")
	assert.Contains(t, gw.last, "ended the search phase early")
}

func TestDedupeSourcesKeepsHighestRelevance(t *testing.T) {
	out := dedupeSources([]SourceResult{
		{URL: "https://a", Relevance: 0.3},
		{URL: "https://a", Relevance: 0.9},
		{URL: "https://b", Relevance: 0.5},
		{URL: "", Relevance: 1.0},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "https://a", out[0].URL)
	assert.Equal(t, 0.9, out[0].Relevance)
	assert.Equal(t, "https://b", out[1].URL)
}

func TestDedupeCollapsesURLVariants(t *testing.T) {
	out := dedupeSources([]SourceResult{
		{URL: "https://Example.com/x", Relevance: 0.4},
		{URL: "https://example.com/x/", Relevance: 0.8},
		{URL: "https://example.com/x#intro", Relevance: 0.6},
		{URL: "HTTPS://example.com/y", Relevance: 0.5},
	})
	require.Len(t, out, 2)
	// The highest-relevance variant survives with its original URL.
	assert.Equal(t, "https://example.com/x/", out[0].URL)
	assert.Equal(t, 0.8, out[0].Relevance)
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://Example.com/Path/":     "https://example.com/Path",
		"https://example.com/p#frag":    "https://example.com/p",
		"HTTP://EXAMPLE.COM":            "http://example.com",
		"https://example.com/a?q=B":     "https://example.com/a?q=B",
		"Opaque-Text/":                  "opaque-text",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeURL(in), in)
	}
}

func TestRecordTrajectoryStepAccumulatesUsage(t *testing.T) {
	store := &fakeSessions{}
	a := testActivities(t, &fakeGateway{}, nil, store)

	err := a.RecordTrajectoryStep(context.Background(), RecordStepInput{
		SessionID:        uuid.NewString(),
		StepNumber:       1,
		StepName:         "decomposition",
		ModelUsed:        "test-model",
		PromptTokens:     100,
		CompletionTokens: 50,
		StartedAt:        time.Now().Add(-time.Second),
		CompletedAt:      time.Now(),
		Status:           db.StepSuccess,
	})
	require.NoError(t, err)

	require.Len(t, store.steps, 1)
	assert.Equal(t, 100, store.usagePrompt)
	assert.Equal(t, 50, store.usageComplete)
	assert.Greater(t, store.usageCost, 0.0)
}

func TestRecordTrajectoryStepNoUsageSkipsAccounting(t *testing.T) {
	store := &fakeSessions{}
	a := testActivities(t, &fakeGateway{}, nil, store)

	err := a.RecordTrajectoryStep(context.Background(), RecordStepInput{
		SessionID:  uuid.NewString(),
		StepNumber: 2,
		StepName:   "steering",
		Status:     db.StepSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, store.usagePrompt)
	assert.Equal(t, 0.0, store.usageCost)
}

func TestPersistSourcesMapsRows(t *testing.T) {
	store := &fakeSessions{}
	a := testActivities(t, &fakeGateway{}, nil, store)
	sid := uuid.NewString()

	err := a.PersistSources(context.Background(), PersistSourcesInput{
		SessionID: sid,
		Sources: []SourceResult{
			{URL: "https://a", Title: "T", Kind: db.SourceAcademic, AgentName: "academic", Relevance: 0.5},
		},
	})
	require.NoError(t, err)
	require.Len(t, store.sources, 1)
	assert.Equal(t, sid, store.sources[0].SessionID.String())
	assert.Equal(t, db.SourceAcademic, store.sources[0].Kind)
}

func TestRecordSteeringEvent(t *testing.T) {
	store := &fakeSessions{}
	a := testActivities(t, &fakeGateway{}, nil, store)

	err := a.RecordSteeringEvent(context.Background(), RecordSteeringEventInput{
		SessionID:  uuid.NewString(),
		UserID:     "u1",
		Command:    steering.CommandExcludeTopic,
		Payload:    map[string]interface{}{"terms": []string{"x"}},
		Applied:    true,
		StepNumber: 3,
	})
	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.True(t, store.events[0].Applied)
	assert.Equal(t, steering.CommandExcludeTopic, store.events[0].Command)
}
