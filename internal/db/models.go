package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session status values. Transitions are monotonic along the workflow state
// machine; completed and failed are terminal.
const (
	StatusPending      = "pending"
	StatusDecomposing  = "decomposing"
	StatusSteeringWait = "steering_wait"
	StatusSearching    = "searching"
	StatusSynthesizing = "synthesizing"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// TrajectoryStep status values.
const (
	StepSuccess = "success"
	StepFailed  = "failed"
	StepRetried = "retried"
)

// Source classifications.
const (
	SourceWeb      = "web"
	SourceAcademic = "academic"
	SourceCode     = "code"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// ResearchSession is one end-to-end research request.
type ResearchSession struct {
	ID          uuid.UUID  `db:"id"`
	UserID      string     `db:"user_id"`
	Query       string     `db:"query"`
	Status      string     `db:"status"`
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`

	// Final report, nullable until completed
	Report       *string `db:"report"`
	FailedStep   *string `db:"failed_step"`
	ErrorMessage *string `db:"error_message"`

	// Cumulative accounting
	PromptTokens     int     `db:"prompt_tokens"`
	CompletionTokens int     `db:"completion_tokens"`
	TotalTokens      int     `db:"total_tokens"`
	TotalCostUSD     float64 `db:"total_cost_usd"`

	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// Terminal reports whether the session has reached a terminal status.
func (s *ResearchSession) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// TrajectoryStep is one append-only audit record of a workflow action.
// Step numbers are assigned by the workflow and are strictly increasing
// per session.
type TrajectoryStep struct {
	ID         uuid.UUID `db:"id"`
	SessionID  uuid.UUID `db:"session_id"`
	StepNumber int       `db:"step_number"`
	StepName   string    `db:"step_name"`
	AgentName  string    `db:"agent_name"`

	Input  JSONB `db:"input"`
	Output JSONB `db:"output"`

	ModelUsed        string `db:"model_used"`
	ProviderUsed     string `db:"provider_used"`
	PromptTokens     int    `db:"prompt_tokens"`
	CompletionTokens int    `db:"completion_tokens"`

	StartedAt   time.Time `db:"started_at"`
	CompletedAt time.Time `db:"completed_at"`
	LatencyMs   int64     `db:"latency_ms"`

	Status       string `db:"status"`
	ErrorMessage string `db:"error_message"`

	CreatedAt time.Time `db:"created_at"`
}

// Source is one discovered reference. Never mutated after insert;
// deduplication is a synthesis-time concern, not a storage invariant.
type Source struct {
	ID           uuid.UUID `db:"id"`
	SessionID    uuid.UUID `db:"session_id"`
	URL          string    `db:"url"`
	Title        string    `db:"title"`
	Snippet      string    `db:"snippet"`
	Kind         string    `db:"kind"`
	AgentName    string    `db:"agent_name"`
	Relevance    float64   `db:"relevance"`
	DiscoveredAt time.Time `db:"discovered_at"`
	Metadata     JSONB     `db:"metadata"`
}

// SteeringEvent is one user-submitted intervention. A command is either
// applied exactly once or recorded here as failed to apply.
type SteeringEvent struct {
	ID         uuid.UUID `db:"id"`
	SessionID  uuid.UUID `db:"session_id"`
	UserID     string    `db:"user_id"`
	Command    string    `db:"command"`
	Payload    JSONB     `db:"payload"`
	Applied    bool      `db:"applied"`
	StepNumber int       `db:"step_number"`
	AppliedAt  time.Time `db:"applied_at"`
}

// SessionFilter narrows session list queries.
type SessionFilter struct {
	UserID *string
	Status *string
	Limit  int
	Offset int
}
