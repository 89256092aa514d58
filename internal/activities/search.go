package activities

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/metrics"
)

// ExecuteSearchAgent runs one agent over the session's sub-queries. Steering
// directives are applied here: added sources become extra sub-queries, and
// excluded topics filter the findings. An error return feeds the workflow's
// retry policy; the workflow treats exhausted retries as a failed step for
// this agent only.
func (a *Activities) ExecuteSearchAgent(ctx context.Context, in SearchAgentInput) (*SearchAgentResult, error) {
	agent, err := a.registry.Get(in.AgentName)
	if err != nil {
		return nil, err
	}

	queries := append([]string{}, in.SubQueries...)
	queries = append(queries, in.Directives.AddedSources...)

	start := time.Now()
	results, err := agent.Search(ctx, queries, in.MaxSources)
	elapsed := time.Since(start)
	metrics.AgentSearchDuration.WithLabelValues(in.AgentName).Observe(elapsed.Seconds())

	if err != nil {
		metrics.AgentSearches.WithLabelValues(in.AgentName, "error").Inc()
		a.logger.Warn("Search agent failed",
			zap.String("session_id", in.SessionID),
			zap.String("agent", in.AgentName),
			zap.Error(err),
		)
		return nil, err
	}

	sources := make([]SourceResult, 0, len(results))
	for _, r := range results {
		if excluded(r.Title, r.Snippet, in.Directives.ExcludedTopics) {
			continue
		}
		sources = append(sources, SourceResult{
			URL:       r.URL,
			Title:     r.Title,
			Snippet:   r.Snippet,
			Kind:      agent.Kind(),
			AgentName: in.AgentName,
			Relevance: r.Relevance,
			Metadata:  r.Metadata,
		})
	}

	metrics.AgentSearches.WithLabelValues(in.AgentName, "ok").Inc()
	metrics.SourcesFound.WithLabelValues(in.AgentName).Add(float64(len(sources)))

	return &SearchAgentResult{
		AgentName:  in.AgentName,
		Sources:    sources,
		DurationMs: elapsed.Milliseconds(),
	}, nil
}

// excluded reports whether any excluded term appears in the source text.
func excluded(title, snippet string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	haystack := strings.ToLower(title + " " + snippet)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
