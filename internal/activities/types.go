package activities

import (
	"time"

	"github.com/meridianlab/orchestrator/internal/modelgateway"
	"github.com/meridianlab/orchestrator/internal/steering"
)

// Activity names as registered on the worker. Workflows reference activities
// by these strings so a rename cannot silently break replay.
const (
	DecomposeActivity            = "Decompose"
	ExecuteSearchAgentActivity   = "ExecuteSearchAgent"
	SynthesizeActivity           = "Synthesize"
	RecordTrajectoryStepActivity = "RecordTrajectoryStep"
	UpdateSessionStatusActivity  = "UpdateSessionStatus"
	CompleteSessionActivity      = "CompleteSession"
	FailSessionActivity          = "FailSession"
	PersistSourcesActivity       = "PersistSources"
	RecordSteeringEventActivity  = "RecordSteeringEvent"
	FetchPendingSteeringActivity = "FetchPendingSteering"
	EmitResearchEventActivity    = "EmitResearchEvent"
)

// Trajectory step names. Search steps are StepNameSearchPrefix + agent name.
const (
	StepNameDecomposition = "decomposition"
	StepNameSteering      = "steering"
	StepNameSynthesis     = "synthesis"
	StepNameSearchPrefix  = "search_"
)

// DecomposeInput asks the model to split a research query into sub-queries.
type DecomposeInput struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// DecompositionResult carries the sub-queries and the call accounting.
type DecompositionResult struct {
	SubQueries []string          `json:"sub_queries"`
	Rationale  string            `json:"rationale,omitempty"`
	Provider   string            `json:"provider"`
	Model      string            `json:"model"`
	Usage      modelgateway.Usage `json:"usage"`
}

// SourceResult is one discovered source in transit between activities.
type SourceResult struct {
	URL       string                 `json:"url"`
	Title     string                 `json:"title"`
	Snippet   string                 `json:"snippet"`
	Kind      string                 `json:"kind"`
	AgentName string                 `json:"agent_name"`
	Relevance float64                `json:"relevance"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SearchAgentInput runs one named agent over the sub-queries.
type SearchAgentInput struct {
	SessionID  string              `json:"session_id"`
	AgentName  string              `json:"agent_name"`
	SubQueries []string            `json:"sub_queries"`
	MaxSources int                 `json:"max_sources"`
	Directives steering.Directives `json:"directives"`
}

// SearchAgentResult is the agent's findings.
type SearchAgentResult struct {
	AgentName  string         `json:"agent_name"`
	Sources    []SourceResult `json:"sources"`
	DurationMs int64          `json:"duration_ms"`
}

// SynthesisInput produces the final report from everything gathered.
type SynthesisInput struct {
	SessionID    string              `json:"session_id"`
	Query        string              `json:"query"`
	SubQueries   []string            `json:"sub_queries"`
	Sources      []SourceResult      `json:"sources"`
	Directives   steering.Directives `json:"directives"`
	FailedAgents []string            `json:"failed_agents,omitempty"`
}

// SynthesisResult carries the report and the call accounting.
type SynthesisResult struct {
	Report   string             `json:"report"`
	Provider string             `json:"provider"`
	Model    string             `json:"model"`
	Usage    modelgateway.Usage `json:"usage"`
}

// RecordStepInput appends one trajectory step. Token counts, when present,
// also accumulate onto the session's usage totals.
type RecordStepInput struct {
	SessionID  string                 `json:"session_id"`
	StepNumber int                    `json:"step_number"`
	StepName   string                 `json:"step_name"`
	AgentName  string                 `json:"agent_name,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`

	ModelUsed        string `json:"model_used,omitempty"`
	ProviderUsed     string `json:"provider_used,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// UpdateStatusInput advances the session's status column.
type UpdateStatusInput struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// CompleteSessionInput finalizes a successful run.
type CompleteSessionInput struct {
	SessionID       string  `json:"session_id"`
	Report          string  `json:"report"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// FailSessionInput finalizes a failed run.
type FailSessionInput struct {
	SessionID       string  `json:"session_id"`
	FailedStep      string  `json:"failed_step"`
	Message         string  `json:"message"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// PersistSourcesInput writes discovered sources.
type PersistSourcesInput struct {
	SessionID string         `json:"session_id"`
	Sources   []SourceResult `json:"sources"`
}

// RecordSteeringEventInput audits one steering command, applied or not.
type RecordSteeringEventInput struct {
	SessionID  string                 `json:"session_id"`
	UserID     string                 `json:"user_id"`
	Command    string                 `json:"command"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Applied    bool                   `json:"applied"`
	StepNumber int                    `json:"step_number"`
}

// FetchPendingSteeringInput drains commands queued before the checkpoint.
type FetchPendingSteeringInput struct {
	SessionID string `json:"session_id"`
}

// EmitEventInput publishes one progress event to the session's stream.
type EmitEventInput struct {
	SessionID string                 `json:"session_id"`
	Type      string                 `json:"type"`
	AgentName string                 `json:"agent_name,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
