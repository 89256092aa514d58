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

// AcademicAgent queries the Semantic Scholar Graph API for papers.
type AcademicAgent struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewAcademicAgent reads ACADEMIC_SEARCH_URL and SEMANTIC_SCHOLAR_API_KEY.
func NewAcademicAgent(logger *zap.Logger) *AcademicAgent {
	base := os.Getenv("ACADEMIC_SEARCH_URL")
	if base == "" {
		base = "https://api.semanticscholar.org"
	}
	return &AcademicAgent{
		baseURL: base,
		apiKey:  os.Getenv("SEMANTIC_SCHOLAR_API_KEY"),
		client:  newHTTPClient(),
		logger:  logger,
	}
}

func (a *AcademicAgent) Name() string { return AgentAcademic }
func (a *AcademicAgent) Kind() string { return db.SourceAcademic }

type scholarResponse struct {
	Data []struct {
		Title    string `json:"title"`
		Abstract string `json:"abstract"`
		URL      string `json:"url"`
		Year     int    `json:"year"`
		Venue    string `json:"venue"`
	} `json:"data"`
}

func (a *AcademicAgent) Search(ctx context.Context, subQueries []string, maxResults int) ([]Result, error) {
	var results []Result
	failures := 0

	for _, q := range subQueries {
		page, err := a.searchOne(ctx, q)
		if err != nil {
			failures++
			a.logger.Warn("Academic search sub-query failed",
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
		return nil, fmt.Errorf("academic search: %w", ErrUnreachable)
	}
	return capResults(results, maxResults), nil
}

func (a *AcademicAgent) searchOne(ctx context.Context, query string) ([]Result, error) {
	endpoint := fmt.Sprintf("%s/graph/v1/paper/search?query=%s&limit=10&fields=title,abstract,url,year,venue",
		a.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if a.apiKey != "" {
		req.Header.Set("x-api-key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out scholarResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	results := make([]Result, 0, len(out.Data))
	for _, paper := range out.Data {
		if paper.URL == "" {
			continue
		}
		results = append(results, Result{
			URL:     paper.URL,
			Title:   paper.Title,
			Snippet: truncateSnippet(paper.Abstract),
			// Semantic Scholar exposes no native relevance score.
			Relevance: neutralRelevance,
			Metadata: map[string]interface{}{
				"year":  paper.Year,
				"venue": paper.Venue,
				"query": query,
			},
		})
	}
	return results, nil
}

func truncateSnippet(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
