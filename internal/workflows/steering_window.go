package workflows

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/meridianlab/orchestrator/internal/activities"
	"github.com/meridianlab/orchestrator/internal/db"
	"github.com/meridianlab/orchestrator/internal/steering"
	"github.com/meridianlab/orchestrator/internal/streaming"
)

// steeringState is what a steering window leaves behind.
type steeringState struct {
	directives steering.Directives
	count      int
	openedAt   time.Time
}

// runSteeringWindow opens the steering checkpoint: commands queued before
// the window are applied first in submission order, then the workflow waits
// on the signal channel until a terminal command (continue or force_stop)
// arrives or the window times out. The first terminal command wins; anything
// still queued behind it is recorded as not applied.
func runSteeringWindow(ctx workflow.Context, persistCtx workflow.Context, input ResearchInput, stepNumber int) (string, steeringState) {
	logger := workflow.GetLogger(ctx)

	window := defaultSteeringWindow
	if input.Options.SteeringWindowSeconds > 0 {
		window = time.Duration(input.Options.SteeringWindowSeconds) * time.Second
	}

	state := steeringState{openedAt: workflow.Now(ctx)}

	setStatus(persistCtx, input.SessionID, db.StatusSteeringWait)
	emit(persistCtx, input.SessionID, streaming.EventSteeringReady, "", "Steering window open",
		map[string]interface{}{"window_seconds": int(window.Seconds())})

	ch := workflow.GetSignalChannel(ctx, SignalSteeringCommand)

	// Commands submitted before the checkpoint.
	var pending []steering.Command
	if err := workflow.ExecuteActivity(persistCtx, activities.FetchPendingSteeringActivity, activities.FetchPendingSteeringInput{
		SessionID: input.SessionID,
	}).Get(ctx, &pending); err != nil {
		logger.Warn("Failed to drain pending steering commands", "error", err)
	}

	outcome := ""
	for _, cmd := range pending {
		if outcome != "" {
			// A terminal command already closed the window.
			auditCommand(persistCtx, input.SessionID, cmd, false, stepNumber)
			continue
		}
		outcome = applyCommand(persistCtx, input, cmd, &state, stepNumber)
	}

	if outcome == "" {
		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		timer := workflow.NewTimer(timerCtx, window)
		defer cancelTimer()

		for outcome == "" {
			sel := workflow.NewSelector(ctx)
			sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
				var cmd steering.Command
				c.Receive(ctx, &cmd)
				outcome = applyCommand(persistCtx, input, cmd, &state, stepNumber)
			})
			sel.AddFuture(timer, func(f workflow.Future) {
				outcome = SteeringOutcomeTimeout
			})
			sel.Select(ctx)
		}
	}

	// A command signaled in the instant the window closed may still sit in
	// the channel; audit it rather than dropping it silently.
	for {
		var cmd steering.Command
		if !ch.ReceiveAsync(&cmd) {
			break
		}
		auditCommand(persistCtx, input.SessionID, cmd, false, stepNumber)
	}

	if outcome == SteeringOutcomeTimeout {
		logger.Info("Steering window timed out", "session_id", input.SessionID)
	}
	return outcome, state
}

// applyCommand folds one command into the window state and audits it.
// Returns the outcome when the command is terminal, "" otherwise.
func applyCommand(persistCtx workflow.Context, input ResearchInput, cmd steering.Command, state *steeringState, stepNumber int) string {
	state.directives.Apply(cmd)
	state.count++
	auditCommand(persistCtx, input.SessionID, cmd, true, stepNumber)
	emit(persistCtx, input.SessionID, streaming.EventSteeringApplied, "",
		"Steering command applied: "+cmd.Command,
		map[string]interface{}{"command": cmd.Command})

	switch cmd.Command {
	case steering.CommandContinue:
		return SteeringOutcomeContinue
	case steering.CommandForceStop:
		return SteeringOutcomeForceStop
	}
	return ""
}

// auditCommand persists the steering event row.
func auditCommand(persistCtx workflow.Context, sessionID string, cmd steering.Command, applied bool, stepNumber int) {
	if err := workflow.ExecuteActivity(persistCtx, activities.RecordSteeringEventActivity, activities.RecordSteeringEventInput{
		SessionID:  sessionID,
		UserID:     cmd.UserID,
		Command:    cmd.Command,
		Payload:    cmd.Payload(),
		Applied:    applied,
		StepNumber: stepNumber,
	}).Get(persistCtx, nil); err != nil {
		workflow.GetLogger(persistCtx).Warn("Failed to record steering event",
			"command", cmd.Command, "error", err)
	}
}
