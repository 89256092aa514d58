package activities

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/metrics"
	"github.com/meridianlab/orchestrator/internal/modelgateway"
)

// Synthesize produces the final markdown report from the deduplicated
// sources and any steering directives. A force-stopped run with few or no
// sources still synthesizes; the prompt tells the model what it has.
func (a *Activities) Synthesize(ctx context.Context, in SynthesisInput) (*SynthesisResult, error) {
	start := time.Now()
	defer func() {
		metrics.PhaseLatency.WithLabelValues(StepNameSynthesis).Observe(time.Since(start).Seconds())
	}()

	sources := dedupeSources(in.Sources)
	prompt := buildSynthesisPrompt(in, sources)

	res, err := a.gateway.Generate(ctx, prompt, modelgateway.PurposeSynthesis, modelgateway.Options{
		MaxTokens:   4096,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, fmt.Errorf("synthesis from %s returned empty report", res.Provider)
	}

	a.logger.Info("Report synthesized",
		zap.String("session_id", in.SessionID),
		zap.Int("sources", len(sources)),
		zap.String("provider", res.Provider),
	)

	return &SynthesisResult{
		Report:   res.Text,
		Provider: res.Provider,
		Model:    res.Model,
		Usage:    res.Usage,
	}, nil
}

// dedupeSources collapses sources sharing a normalized URL, keeping the
// highest relevance, and orders the survivors by relevance descending.
func dedupeSources(sources []SourceResult) []SourceResult {
	best := make(map[string]SourceResult, len(sources))
	for _, s := range sources {
		if s.URL == "" {
			continue
		}
		key := normalizeURL(s.URL)
		if prev, ok := best[key]; !ok || s.Relevance > prev.Relevance {
			best[key] = s
		}
	}
	out := make([]SourceResult, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// normalizeURL lowercases scheme and host and strips fragments and trailing
// slashes, so casing and anchor variants of the same page collapse to one key.
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

func buildSynthesisPrompt(in SynthesisInput, sources []SourceResult) string {
	var b strings.Builder
	b.WriteString("You are a research analyst. Write a thorough markdown report answering the research query using the sources below. Cite sources inline by their bracketed number and include a numbered source list at the end.\n\n")
	fmt.Fprintf(&b, "Research query: %s\n\n", in.Query)

	if len(in.SubQueries) > 0 {
		b.WriteString("Sub-questions investigated:\n")
		for _, q := range in.SubQueries {
			fmt.Fprintf(&b, "- %s\n", q)
		}
		b.WriteString("\n")
	}

	if len(in.Directives.DirectionChanges) > 0 {
		b.WriteString("The user redirected the research; honor these instructions:\n")
		for _, d := range in.Directives.DirectionChanges {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}
	if len(in.Directives.ExcludedTopics) > 0 {
		fmt.Fprintf(&b, "Do not cover these topics: %s\n\n", strings.Join(in.Directives.ExcludedTopics, ", "))
	}
	if in.Directives.ForceStopped {
		b.WriteString("The user ended the search phase early. Work with the sources available and note any coverage gaps.\n\n")
	}
	if len(in.FailedAgents) > 0 {
		fmt.Fprintf(&b, "Note: the following search channels were unavailable: %s. Mention this limitation if relevant.\n\n",
			strings.Join(in.FailedAgents, ", "))
	}

	if len(sources) == 0 {
		b.WriteString("No sources were gathered. Write a short report explaining that the search produced no usable sources and suggest how the query could be refined.\n")
		return b.String()
	}

	b.WriteString("Sources:\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s — %s (%s)\n    %s\n", i+1, s.Title, s.URL, s.Kind, s.Snippet)
	}
	return b.String()
}
