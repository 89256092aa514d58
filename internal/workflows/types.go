package workflows

import (
	"github.com/meridianlab/orchestrator/internal/steering"
)

// Workflow registration and signal names.
const (
	ResearchWorkflowName  = "ResearchWorkflow"
	SignalSteeringCommand = "steering-command"
	TaskQueue             = "meridian-research"
)

// RunOptions tunes one research run. Zero values fall back to server
// defaults before the workflow starts; the workflow itself never reads
// config so replays stay deterministic.
type RunOptions struct {
	SteeringEnabled       bool     `json:"steering_enabled"`
	SteeringWindowSeconds int      `json:"steering_window_seconds"`
	MaxSources            int      `json:"max_sources"`
	Agents                []string `json:"agents"`
}

// ResearchInput starts one research run.
type ResearchInput struct {
	SessionID string     `json:"session_id"`
	Query     string     `json:"query"`
	UserID    string     `json:"user_id"`
	Options   RunOptions `json:"options"`
}

// ResearchResult is the workflow's return value. A failed run returns a
// result with Status failed rather than a workflow error, so the history
// keeps the full trajectory either way.
type ResearchResult struct {
	SessionID       string              `json:"session_id"`
	Status          string              `json:"status"`
	Report          string              `json:"report,omitempty"`
	FailedStep      string              `json:"failed_step,omitempty"`
	SourceCount     int                 `json:"source_count"`
	StepsRecorded   int                 `json:"steps_recorded"`
	SteeringOutcome string              `json:"steering_outcome,omitempty"`
	Directives      steering.Directives `json:"directives"`
}

// Steering wait outcomes.
const (
	SteeringOutcomeContinue  = "continue"
	SteeringOutcomeForceStop = "force_stop"
	SteeringOutcomeTimeout   = "timeout"
)
