package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is invoked after a successful reload with the new snapshot.
type ChangeHandler func(f *Features)

// Source yields the current configuration snapshot. The Manager is the live
// implementation; Static freezes one snapshot for callers without a watcher.
type Source interface {
	Current() *Features
}

// Static is a Source pinned to a single snapshot.
type Static struct {
	f *Features
}

// NewStatic wraps a fixed snapshot as a Source.
func NewStatic(f *Features) *Static {
	return &Static{f: f}
}

// Current returns the pinned snapshot.
func (s *Static) Current() *Features {
	return s.f
}

// Manager watches the config directory and hot-reloads features.yaml.
// Running workflows are unaffected; new runs observe the updated snapshot.
type Manager struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	current  *Features
	handlers []ChangeHandler

	// debounce window for editors that emit write bursts
	debounce time.Duration
}

// NewManager creates a manager for the given features.yaml path.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	m := &Manager{
		path:     path,
		logger:   logger,
		watcher:  watcher,
		stopCh:   make(chan struct{}),
		debounce: 200 * time.Millisecond,
	}

	m.current = LoadOrDefaults()
	return m, nil
}

// Current returns the latest configuration snapshot.
func (m *Manager) Current() *Features {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler invoked after each successful reload.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start begins watching. Watching the parent directory catches atomic
// rename-style writes that would detach a file-level watch.
func (m *Manager) Start() error {
	dir := filepath.Dir(m.path)
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go m.loop()
	m.logger.Info("Config manager watching", zap.String("dir", dir))
	return nil
}

func (m *Manager) loop() {
	var timer *time.Timer
	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(m.debounce, m.reload)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) reload() {
	f, err := Load()
	if err != nil {
		m.logger.Warn("Config reload failed, keeping previous snapshot", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.current = f
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.logger.Info("Configuration reloaded",
		zap.Int("steering_window_seconds", f.Steering.WindowSeconds),
		zap.Int("agent_timeout_seconds", f.Search.AgentTimeoutSeconds),
	)
	for _, h := range handlers {
		h(f)
	}
}

// Stop shuts down the watcher.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		_ = m.watcher.Close()
	})
}
