package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/agents"
	"github.com/meridianlab/orchestrator/internal/modelgateway"
	"github.com/meridianlab/orchestrator/internal/steering"
	"github.com/meridianlab/orchestrator/internal/trajectory"
)

// ModelGateway is the generation surface the activities need.
type ModelGateway interface {
	Generate(ctx context.Context, prompt string, purpose modelgateway.Purpose, opts modelgateway.Options) (*modelgateway.Result, error)
}

// Activities bundles the worker-side dependencies. Every exported method is
// registered on the worker under its method name.
type Activities struct {
	gateway  ModelGateway
	registry *agents.Registry
	sessions SessionStore
	recorder *trajectory.Recorder
	inbox    *steering.Inbox
	logger   *zap.Logger
}

// NewActivities wires the dependency bundle.
func NewActivities(
	gateway ModelGateway,
	registry *agents.Registry,
	sessions SessionStore,
	recorder *trajectory.Recorder,
	inbox *steering.Inbox,
	logger *zap.Logger,
) *Activities {
	return &Activities{
		gateway:  gateway,
		registry: registry,
		sessions: sessions,
		recorder: recorder,
		inbox:    inbox,
		logger:   logger,
	}
}
