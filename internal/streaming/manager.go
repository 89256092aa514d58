package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/meridianlab/orchestrator/internal/metrics"
)

// EventType enumerates the progress events a research session publishes.
type EventType string

const (
	EventStepStarted     EventType = "step_started"
	EventStepCompleted   EventType = "step_completed"
	EventSourceFound     EventType = "source_found"
	EventSteeringReady   EventType = "steering_ready"
	EventSteeringApplied EventType = "steering_applied"
	EventCompleted       EventType = "completed"
	EventError           EventType = "error"
)

// Event is one progress event on a session's feed.
type Event struct {
	SessionID string                 `json:"session_id"`
	Type      EventType              `json:"type"`
	AgentName string                 `json:"agent_name,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal returns JSON for SSE frames and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory per-session pub/sub. Delivery is at-most-once
// per subscriber and ordered per session; subscribers joining mid-session
// see only events published after they subscribe (ring replay is
// best-effort and bounded).
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

var (
	defaultMgr      *Manager
	once            sync.Once
	defaultCapacity = 256
)

// Get returns the global streaming manager, initializing it lazily.
func Get() *Manager {
	once.Do(func() {
		defaultMgr = NewManager(defaultCapacity)
	})
	return defaultMgr
}

// Configure sets the ring capacity used for future sessions.
func Configure(capacity int) {
	if capacity <= 0 {
		return
	}
	defaultCapacity = capacity
	if defaultMgr != nil {
		defaultMgr.mu.Lock()
		defaultMgr.capacity = capacity
		defaultMgr.mu.Unlock()
	}
}

// NewManager creates a manager with the given per-session ring capacity.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a session; the caller must drain
// it and call Unsubscribe when done.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[sessionID]; ok {
		if _, present := subs[ch]; !present {
			return
		}
		delete(subs, ch)
		close(ch)
		metrics.StreamSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, sessionID)
		}
	}
}

// Publish assigns the next sequence number and fans the event out to all
// subscribers of the session. Slow subscribers are skipped, never blocked on.
func (m *Manager) Publish(sessionID string, evt Event) {
	m.mu.Lock()
	rg := m.history[sessionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[sessionID] = rg
	}
	evt.SessionID = sessionID
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)

	// Fan out while still holding the lock: sends are non-blocking, and
	// Unsubscribe closes channels under this same lock, so no send can
	// ever reach a closed channel.
	for ch := range m.subscribers[sessionID] {
		select {
		case ch <- evt:
		default:
			// Drop for slow subscribers; replay is the trajectory's job.
		}
	}
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
}

// ReplaySince returns buffered events with Seq > since, best-effort within
// the ring capacity.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[sessionID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the ring for a finished session.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, sessionID)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
