package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/db"
)

// CodeAgent queries the GitHub repository search API.
type CodeAgent struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewCodeAgent reads CODE_SEARCH_URL and GITHUB_TOKEN.
func NewCodeAgent(logger *zap.Logger) *CodeAgent {
	base := os.Getenv("CODE_SEARCH_URL")
	if base == "" {
		base = "https://api.github.com"
	}
	return &CodeAgent{
		baseURL: base,
		token:   os.Getenv("GITHUB_TOKEN"),
		client:  newHTTPClient(),
		logger:  logger,
	}
}

func (a *CodeAgent) Name() string { return AgentCode }
func (a *CodeAgent) Kind() string { return db.SourceCode }

type githubSearchResponse struct {
	Items []struct {
		HTMLURL     string  `json:"html_url"`
		FullName    string  `json:"full_name"`
		Description string  `json:"description"`
		Stars       int     `json:"stargazers_count"`
		Language    string  `json:"language"`
		Score       float64 `json:"score"`
	} `json:"items"`
}

func (a *CodeAgent) Search(ctx context.Context, subQueries []string, maxResults int) ([]Result, error) {
	var results []Result
	failures := 0

	for _, q := range subQueries {
		page, err := a.searchOne(ctx, q)
		if err != nil {
			failures++
			a.logger.Warn("Code search sub-query failed",
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
		return nil, fmt.Errorf("code search: %w", ErrUnreachable)
	}
	return capResults(results, maxResults), nil
}

func (a *CodeAgent) searchOne(ctx context.Context, query string) ([]Result, error) {
	endpoint := fmt.Sprintf("%s/search/repositories?q=%s&per_page=10", a.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out githubSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	results := make([]Result, 0, len(out.Items))
	for _, item := range out.Items {
		if item.HTMLURL == "" {
			continue
		}
		results = append(results, Result{
			URL:       item.HTMLURL,
			Title:     item.FullName,
			Snippet:   truncateSnippet(item.Description),
			Relevance: normalizeScore(item.Score),
			Metadata: map[string]interface{}{
				"stars":    item.Stars,
				"language": item.Language,
				"query":    query,
			},
		})
	}
	return results, nil
}

// normalizeScore squashes GitHub's unbounded relevance score into (0, 1).
func normalizeScore(score float64) float64 {
	if score <= 0 {
		return neutralRelevance
	}
	return score / (score + 1)
}
