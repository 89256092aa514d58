package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/meridianlab/orchestrator/internal/activities"
	"github.com/meridianlab/orchestrator/internal/agents"
	"github.com/meridianlab/orchestrator/internal/db"
	"github.com/meridianlab/orchestrator/internal/streaming"
)

const (
	defaultSteeringWindow = 5 * time.Minute
	agentAttemptTimeout   = 30 * time.Second
)

// ResearchWorkflow drives one research session through decomposition, an
// optional steering checkpoint, parallel search fan-out, and synthesis.
// Each phase transition updates the session row, appends exactly one
// trajectory step, and publishes one stream event. Failures of the model
// phases end the run as failed; a single search agent failing does not.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (*ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	runStart := workflow.Now(ctx)

	result := &ResearchResult{SessionID: input.SessionID}

	persistCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	// The gateway already falls back to the secondary provider inside one
	// call, so the workflow never retries model activities.
	modelCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	searchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: agentAttemptTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    8 * time.Second,
			MaximumAttempts:    3,
		},
	})

	stepNum := 0

	// Phase 1: decomposition.
	setStatus(persistCtx, input.SessionID, db.StatusDecomposing)
	emit(persistCtx, input.SessionID, streaming.EventStepStarted, "", "Decomposing research query", nil)

	decompStart := workflow.Now(ctx)
	var decomp activities.DecompositionResult
	err := workflow.ExecuteActivity(modelCtx, activities.DecomposeActivity, activities.DecomposeInput{
		SessionID: input.SessionID,
		Query:     input.Query,
	}).Get(ctx, &decomp)
	stepNum++
	if err != nil {
		recordStep(persistCtx, activities.RecordStepInput{
			SessionID:    input.SessionID,
			StepNumber:   stepNum,
			StepName:     activities.StepNameDecomposition,
			Input:        map[string]interface{}{"query": input.Query},
			StartedAt:    decompStart,
			CompletedAt:  workflow.Now(ctx),
			Status:       db.StepFailed,
			ErrorMessage: err.Error(),
		})
		return failRun(ctx, persistCtx, result, runStart, stepNum,
			activities.StepNameDecomposition, err.Error()), nil
	}
	recordStep(persistCtx, activities.RecordStepInput{
		SessionID:        input.SessionID,
		StepNumber:       stepNum,
		StepName:         activities.StepNameDecomposition,
		Input:            map[string]interface{}{"query": input.Query},
		Output:           map[string]interface{}{"sub_queries": decomp.SubQueries, "rationale": decomp.Rationale},
		ModelUsed:        decomp.Model,
		ProviderUsed:     decomp.Provider,
		PromptTokens:     decomp.Usage.PromptTokens,
		CompletionTokens: decomp.Usage.CompletionTokens,
		StartedAt:        decompStart,
		CompletedAt:      workflow.Now(ctx),
		Status:           db.StepSuccess,
	})
	emit(persistCtx, input.SessionID, streaming.EventStepCompleted, "", "Query decomposed",
		map[string]interface{}{"sub_queries": decomp.SubQueries})

	// Phase 2: steering checkpoint, when enabled.
	if input.Options.SteeringEnabled {
		stepNum++
		outcome, applied := runSteeringWindow(ctx, persistCtx, input, stepNum)
		result.SteeringOutcome = outcome
		result.Directives = applied.directives

		recordStep(persistCtx, activities.RecordStepInput{
			SessionID:   input.SessionID,
			StepNumber:  stepNum,
			StepName:    activities.StepNameSteering,
			Output:      map[string]interface{}{"outcome": outcome, "applied_commands": applied.count},
			StartedAt:   applied.openedAt,
			CompletedAt: workflow.Now(ctx),
			Status:      db.StepSuccess,
		})
		emit(persistCtx, input.SessionID, streaming.EventStepCompleted, "", "Steering window closed",
			map[string]interface{}{"outcome": outcome})
	}

	directives := result.Directives

	// Phase 3: search fan-out, unless the user stopped it.
	var sources []activities.SourceResult
	var failedAgents []string
	if !directives.ForceStopped {
		setStatus(persistCtx, input.SessionID, db.StatusSearching)
		emit(persistCtx, input.SessionID, streaming.EventStepStarted, "", "Dispatching search agents", nil)

		selected := input.Options.Agents
		if len(selected) == 0 {
			selected = []string{agents.AgentWeb, agents.AgentAcademic, agents.AgentCode}
		}

		searchStart := workflow.Now(ctx)
		futures := make([]workflow.Future, len(selected))
		for i, name := range selected {
			futures[i] = workflow.ExecuteActivity(searchCtx, activities.ExecuteSearchAgentActivity, activities.SearchAgentInput{
				SessionID:  input.SessionID,
				AgentName:  name,
				SubQueries: decomp.SubQueries,
				MaxSources: input.Options.MaxSources,
				Directives: directives,
			})
		}

		// Collect in dispatch order so step numbers are stable across
		// replays regardless of completion order.
		for i, name := range selected {
			var agentRes activities.SearchAgentResult
			agentErr := futures[i].Get(ctx, &agentRes)
			stepNum++
			if agentErr != nil {
				failedAgents = append(failedAgents, name)
				logger.Warn("Search agent exhausted retries", "agent", name, "error", agentErr)
				recordStep(persistCtx, activities.RecordStepInput{
					SessionID:    input.SessionID,
					StepNumber:   stepNum,
					StepName:     activities.StepNameSearchPrefix + name,
					AgentName:    name,
					Input:        map[string]interface{}{"sub_queries": decomp.SubQueries},
					StartedAt:    searchStart,
					CompletedAt:  workflow.Now(ctx),
					Status:       db.StepFailed,
					ErrorMessage: agentErr.Error(),
				})
				emit(persistCtx, input.SessionID, streaming.EventError, name,
					fmt.Sprintf("Search agent %s failed", name), nil)
				continue
			}
			sources = append(sources, agentRes.Sources...)
			recordStep(persistCtx, activities.RecordStepInput{
				SessionID:   input.SessionID,
				StepNumber:  stepNum,
				StepName:    activities.StepNameSearchPrefix + name,
				AgentName:   name,
				Input:       map[string]interface{}{"sub_queries": decomp.SubQueries},
				Output:      map[string]interface{}{"sources": len(agentRes.Sources), "duration_ms": agentRes.DurationMs},
				StartedAt:   searchStart,
				CompletedAt: workflow.Now(ctx),
				Status:      db.StepSuccess,
			})
			emit(persistCtx, input.SessionID, streaming.EventSourceFound, name,
				fmt.Sprintf("Agent %s found %d sources", name, len(agentRes.Sources)),
				map[string]interface{}{"count": len(agentRes.Sources)})
		}

		if len(sources) > 0 {
			if err := workflow.ExecuteActivity(persistCtx, activities.PersistSourcesActivity, activities.PersistSourcesInput{
				SessionID: input.SessionID,
				Sources:   sources,
			}).Get(ctx, nil); err != nil {
				logger.Warn("Failed to persist sources", "error", err)
			}
		}
	}
	result.SourceCount = len(sources)

	// Phase 4: synthesis. Runs even with zero sources; the report then
	// documents the gap instead of the run failing silently.
	setStatus(persistCtx, input.SessionID, db.StatusSynthesizing)
	emit(persistCtx, input.SessionID, streaming.EventStepStarted, "", "Synthesizing report", nil)

	synthStart := workflow.Now(ctx)
	var synth activities.SynthesisResult
	err = workflow.ExecuteActivity(modelCtx, activities.SynthesizeActivity, activities.SynthesisInput{
		SessionID:    input.SessionID,
		Query:        input.Query,
		SubQueries:   decomp.SubQueries,
		Sources:      sources,
		Directives:   directives,
		FailedAgents: failedAgents,
	}).Get(ctx, &synth)
	stepNum++
	if err != nil {
		recordStep(persistCtx, activities.RecordStepInput{
			SessionID:    input.SessionID,
			StepNumber:   stepNum,
			StepName:     activities.StepNameSynthesis,
			Input:        map[string]interface{}{"sources": len(sources)},
			StartedAt:    synthStart,
			CompletedAt:  workflow.Now(ctx),
			Status:       db.StepFailed,
			ErrorMessage: err.Error(),
		})
		return failRun(ctx, persistCtx, result, runStart, stepNum,
			activities.StepNameSynthesis, err.Error()), nil
	}
	recordStep(persistCtx, activities.RecordStepInput{
		SessionID:        input.SessionID,
		StepNumber:       stepNum,
		StepName:         activities.StepNameSynthesis,
		Input:            map[string]interface{}{"sources": len(sources)},
		Output:           map[string]interface{}{"report_chars": len(synth.Report)},
		ModelUsed:        synth.Model,
		ProviderUsed:     synth.Provider,
		PromptTokens:     synth.Usage.PromptTokens,
		CompletionTokens: synth.Usage.CompletionTokens,
		StartedAt:        synthStart,
		CompletedAt:      workflow.Now(ctx),
		Status:           db.StepSuccess,
	})

	if err := workflow.ExecuteActivity(persistCtx, activities.CompleteSessionActivity, activities.CompleteSessionInput{
		SessionID:       input.SessionID,
		Report:          synth.Report,
		DurationSeconds: workflow.Now(ctx).Sub(runStart).Seconds(),
	}).Get(ctx, nil); err != nil {
		logger.Error("Failed to finalize session row", "error", err)
	}
	emit(persistCtx, input.SessionID, streaming.EventCompleted, "", "Research completed",
		map[string]interface{}{"sources": len(sources), "provider": synth.Provider})

	result.Status = db.StatusCompleted
	result.Report = synth.Report
	result.StepsRecorded = stepNum
	return result, nil
}

// setStatus advances the session row; a persistence hiccup is not fatal.
func setStatus(persistCtx workflow.Context, sessionID, status string) {
	if err := workflow.ExecuteActivity(persistCtx, activities.UpdateSessionStatusActivity, activities.UpdateStatusInput{
		SessionID: sessionID,
		Status:    status,
	}).Get(persistCtx, nil); err != nil {
		workflow.GetLogger(persistCtx).Warn("Failed to update session status", "status", status, "error", err)
	}
}

// emit publishes one stream event. The call waits for the activity so event
// order matches phase order; delivery failures are ignored.
func emit(persistCtx workflow.Context, sessionID string, evtType streaming.EventType, agentName, message string, payload map[string]interface{}) {
	_ = workflow.ExecuteActivity(persistCtx, activities.EmitResearchEventActivity, activities.EmitEventInput{
		SessionID: sessionID,
		Type:      string(evtType),
		AgentName: agentName,
		Message:   message,
		Payload:   payload,
	}).Get(persistCtx, nil)
}

// recordStep appends one trajectory step; a failed write is logged, never fatal.
func recordStep(persistCtx workflow.Context, in activities.RecordStepInput) {
	if err := workflow.ExecuteActivity(persistCtx, activities.RecordTrajectoryStepActivity, in).Get(persistCtx, nil); err != nil {
		workflow.GetLogger(persistCtx).Warn("Failed to record trajectory step",
			"step", in.StepNumber, "name", in.StepName, "error", err)
	}
}

// failRun finalizes a failed session and shapes the workflow result.
func failRun(ctx workflow.Context, persistCtx workflow.Context, result *ResearchResult, runStart time.Time, steps int, failedStep, message string) *ResearchResult {
	if err := workflow.ExecuteActivity(persistCtx, activities.FailSessionActivity, activities.FailSessionInput{
		SessionID:       result.SessionID,
		FailedStep:      failedStep,
		Message:         message,
		DurationSeconds: workflow.Now(ctx).Sub(runStart).Seconds(),
	}).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("Failed to mark session failed", "error", err)
	}
	emit(persistCtx, result.SessionID, streaming.EventError, "",
		fmt.Sprintf("Research failed at %s", failedStep),
		map[string]interface{}{"failed_step": failedStep})

	result.Status = db.StatusFailed
	result.FailedStep = failedStep
	result.StepsRecorded = steps
	return result
}
