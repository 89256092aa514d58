package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/db"
)

// WebAgent queries a Serper-compatible web search API.
type WebAgent struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewWebAgent reads WEB_SEARCH_URL and WEB_SEARCH_API_KEY.
func NewWebAgent(logger *zap.Logger) *WebAgent {
	base := os.Getenv("WEB_SEARCH_URL")
	if base == "" {
		base = "https://google.serper.dev"
	}
	return &WebAgent{
		baseURL: base,
		apiKey:  os.Getenv("WEB_SEARCH_API_KEY"),
		client:  newHTTPClient(),
		logger:  logger,
	}
}

func (a *WebAgent) Name() string { return AgentWeb }
func (a *WebAgent) Kind() string { return db.SourceWeb }

type serperResponse struct {
	Organic []struct {
		Link     string `json:"link"`
		Title    string `json:"title"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic"`
}

// Search fans the sub-queries out sequentially against the upstream. A
// failing sub-query shortens the result list; only all sub-queries failing
// reports the upstream as unreachable.
func (a *WebAgent) Search(ctx context.Context, subQueries []string, maxResults int) ([]Result, error) {
	var results []Result
	failures := 0

	for _, q := range subQueries {
		page, err := a.searchOne(ctx, q)
		if err != nil {
			failures++
			a.logger.Warn("Web search sub-query failed",
				zap.String("query", q),
				zap.Error(err),
			)
			continue
		}
		results = append(results, page...)
		if maxResults > 0 && len(results) >= maxResults {
			break
		}
	}

	if failures == len(subQueries) && len(subQueries) > 0 {
		return nil, fmt.Errorf("web search: %w", ErrUnreachable)
	}
	return capResults(results, maxResults), nil
}

func (a *WebAgent) searchOne(ctx context.Context, query string) ([]Result, error) {
	body, _ := json.Marshal(map[string]interface{}{"q": query, "num": 10})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-API-KEY", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	results := make([]Result, 0, len(out.Organic))
	for _, hit := range out.Organic {
		if hit.Link == "" {
			continue
		}
		results = append(results, Result{
			URL:       hit.Link,
			Title:     hit.Title,
			Snippet:   hit.Snippet,
			Relevance: positionScore(hit.Position),
			Metadata:  map[string]interface{}{"position": hit.Position, "query": query},
		})
	}
	return results, nil
}

// positionScore decays rank position into [0.1, 0.95].
func positionScore(position int) float64 {
	if position <= 0 {
		return neutralRelevance
	}
	score := 1.0 - float64(position)*0.05
	if score < 0.1 {
		return 0.1
	}
	if score > 0.95 {
		return 0.95
	}
	return score
}
