package agents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Named agent identifiers; these are also the values accepted in run options.
const (
	AgentWeb      = "web"
	AgentAcademic = "academic"
	AgentCode     = "code"
)

// neutralRelevance is assigned when the upstream has no native score.
const neutralRelevance = 0.5

// ErrUnreachable is wrapped when an agent could not reach its upstream for
// any sub-query at all. A partial failure is never an error.
var ErrUnreachable = errors.New("search upstream unreachable")

// Result is one candidate source before persistence.
type Result struct {
	URL       string                 `json:"url"`
	Title     string                 `json:"title"`
	Snippet   string                 `json:"snippet"`
	Relevance float64                `json:"relevance"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Agent is the generalized search contract. Implementations must not raise
// on partial upstream failure: a provider error for one sub-query yields a
// shorter list. Only total unreachability returns an error.
type Agent interface {
	Name() string
	Kind() string
	Search(ctx context.Context, subQueries []string, maxResults int) ([]Result, error)
}

// Registry maps agent names to instances.
type Registry struct {
	agents map[string]Agent
	logger *zap.Logger
}

// NewRegistry builds the default three-agent registry.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{agents: make(map[string]Agent), logger: logger}
	r.Register(NewWebAgent(logger))
	r.Register(NewAcademicAgent(logger))
	r.Register(NewCodeAgent(logger))
	return r
}

// Register adds or replaces an agent.
func (r *Registry) Register(a Agent) {
	r.agents[a.Name()] = a
}

// Get returns the agent registered under name.
func (r *Registry) Get(name string) (Agent, error) {
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}
	return a, nil
}

// Names returns all registered agent names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.agents))
	for name := range r.agents {
		out = append(out, name)
	}
	return out
}

// ValidNames reports whether every requested agent name is registered.
func (r *Registry) ValidNames(names []string) error {
	for _, n := range names {
		if _, ok := r.agents[n]; !ok {
			return fmt.Errorf("unknown agent %q", n)
		}
	}
	return nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// capResults truncates to maxResults when set.
func capResults(results []Result, maxResults int) []Result {
	if maxResults > 0 && len(results) > maxResults {
		return results[:maxResults]
	}
	return results
}
