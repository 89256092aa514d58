package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/metrics"
	"github.com/meridianlab/orchestrator/internal/modelgateway"
)

const decomposePromptTemplate = `You are a research planner. Break the research query below into focused sub-queries that together cover the question. Produce between 2 and 5 sub-queries.

Respond with JSON only, in this exact shape:
{"sub_queries": ["...", "..."], "rationale": "one sentence"}

Research query:
%s`

const maxSubQueries = 5

// Decompose asks the model gateway to split the query into sub-queries. A
// response that cannot be parsed into at least one sub-query is an error;
// the retry policy on the calling workflow decides what happens next.
func (a *Activities) Decompose(ctx context.Context, in DecomposeInput) (*DecompositionResult, error) {
	start := time.Now()
	defer func() {
		metrics.PhaseLatency.WithLabelValues(StepNameDecomposition).Observe(time.Since(start).Seconds())
	}()

	prompt := fmt.Sprintf(decomposePromptTemplate, in.Query)

	res, err := a.gateway.Generate(ctx, prompt, modelgateway.PurposeDecomposition, modelgateway.Options{
		MaxTokens:   1024,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	subQueries, rationale, err := parseDecomposition(res.Text)
	if err != nil {
		return nil, fmt.Errorf("decomposition unparseable from %s: %w", res.Provider, err)
	}

	a.logger.Info("Query decomposed",
		zap.String("session_id", in.SessionID),
		zap.Int("sub_queries", len(subQueries)),
		zap.String("provider", res.Provider),
	)

	return &DecompositionResult{
		SubQueries: subQueries,
		Rationale:  rationale,
		Provider:   res.Provider,
		Model:      res.Model,
		Usage:      res.Usage,
	}, nil
}

// parseDecomposition tolerates models that wrap the JSON in prose or fences.
func parseDecomposition(text string) ([]string, string, error) {
	payload := extractJSONObject(text)
	if payload == "" {
		return nil, "", fmt.Errorf("no JSON object in response")
	}

	var out struct {
		SubQueries []string `json:"sub_queries"`
		Rationale  string   `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, "", err
	}

	cleaned := make([]string, 0, len(out.SubQueries))
	for _, q := range out.SubQueries {
		q = strings.TrimSpace(q)
		if q != "" {
			cleaned = append(cleaned, q)
		}
	}
	if len(cleaned) == 0 {
		return nil, "", fmt.Errorf("no sub-queries in response")
	}
	if len(cleaned) > maxSubQueries {
		cleaned = cleaned[:maxSubQueries]
	}
	return cleaned, strings.TrimSpace(out.Rationale), nil
}

// extractJSONObject returns the outermost {...} span in text, or "".
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
