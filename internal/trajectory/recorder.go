package trajectory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/db"
	"github.com/meridianlab/orchestrator/internal/metrics"
)

// Store is the persistence surface the recorder needs.
type Store interface {
	InsertTrajectoryStep(ctx context.Context, step *db.TrajectoryStep) error
	ListTrajectorySteps(ctx context.Context, sessionID uuid.UUID) ([]db.TrajectoryStep, error)
}

const (
	maxWriteAttempts = 3
	retryDelay       = 250 * time.Millisecond
)

// Recorder persists trajectory steps with a short in-process retry. A step
// that still cannot be written after the retries is logged and dropped: the
// audit trail is best-effort and must never take a research run down with it.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record writes one step, retrying transient failures. It never returns an
// error to the caller; the worst case is a logged, counted loss.
func (r *Recorder) Record(ctx context.Context, step *db.TrajectoryStep) {
	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		if err := r.store.InsertTrajectoryStep(ctx, step); err != nil {
			lastErr = err
			if attempt < maxWriteAttempts {
				metrics.TrajectoryWriteRetries.Inc()
				select {
				case <-ctx.Done():
					lastErr = ctx.Err()
				case <-time.After(retryDelay):
					continue
				}
			}
			break
		}
		metrics.TrajectoryWrites.WithLabelValues("success").Inc()
		return
	}

	metrics.TrajectoryWrites.WithLabelValues("lost").Inc()
	r.logger.Error("Trajectory step lost after retries",
		zap.String("session_id", step.SessionID.String()),
		zap.Int("step_number", step.StepNumber),
		zap.String("step_name", step.StepName),
		zap.Error(lastErr),
	)
}

// List returns the recorded steps for a session in step order.
func (r *Recorder) List(ctx context.Context, sessionID uuid.UUID) ([]db.TrajectoryStep, error) {
	return r.store.ListTrajectorySteps(ctx, sessionID)
}
