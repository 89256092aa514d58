package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus classifies one component's health.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// CheckResult is one component's latest check outcome.
type CheckResult struct {
	Component string        `json:"component"`
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Critical  bool          `json:"critical"`
}

// Checker is one probeable dependency. Critical checkers failing make the
// whole service unready; non-critical ones only degrade it.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	IsCritical() bool
}

// Overall is the aggregate service health.
type Overall struct {
	Status     CheckStatus            `json:"status"`
	Ready      bool                   `json:"ready"`
	Timestamp  time.Time              `json:"timestamp"`
	Components map[string]CheckResult `json:"components,omitempty"`
}

// Manager runs registered checkers on an interval and caches results.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	results  map[string]CheckResult

	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	started  bool
	logger   *zap.Logger
}

// NewManager builds a manager with 15s checks and a 5s per-check timeout.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers: make(map[string]Checker),
		results:  make(map[string]CheckResult),
		interval: 15 * time.Second,
		timeout:  5 * time.Second,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Register adds a checker. Registering after Start is allowed.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[c.Name()] = c
}

// Start launches the background check loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.runAll(ctx)
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.runAll(ctx)
			}
		}
	}()
}

// Stop halts the background loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stopCh)
}

func (m *Manager) runAll(ctx context.Context) {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	for _, c := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		res := c.Check(checkCtx)
		cancel()
		res.Critical = c.IsCritical()
		res.Timestamp = time.Now()

		if res.Status != StatusHealthy {
			m.logger.Warn("Health check not healthy",
				zap.String("component", res.Component),
				zap.String("status", res.Status.String()),
				zap.String("error", res.Error),
			)
		}
		m.mu.Lock()
		m.results[c.Name()] = res
		m.mu.Unlock()
	}
}

// Snapshot aggregates the cached results. A failing critical component makes
// the service unready; non-critical failures degrade it.
func (m *Manager) Snapshot() Overall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overall := Overall{
		Status:     StatusHealthy,
		Ready:      true,
		Timestamp:  time.Now(),
		Components: make(map[string]CheckResult, len(m.results)),
	}
	for name, res := range m.results {
		overall.Components[name] = res
		if res.Status == StatusHealthy {
			continue
		}
		if res.Critical {
			overall.Status = StatusUnhealthy
			overall.Ready = false
		} else if overall.Status == StatusHealthy {
			overall.Status = StatusDegraded
		}
	}
	return overall
}

// Ready reports readiness based on cached results.
func (m *Manager) Ready() bool {
	return m.Snapshot().Ready
}
