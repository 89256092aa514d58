package modelgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridianlab/orchestrator/internal/config"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// The primary is typically a local vLLM/llama.cpp server, the secondary a
// cloud API; both speak the same wire shape.
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	models  map[Purpose]string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOpenAIProvider builds a provider from config.
func NewOpenAIProvider(cfg config.ProviderConfig) *OpenAIProvider {
	timeout := 60 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1)
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	return &OpenAIProvider{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		apiKey:  apiKey,
		models: map[Purpose]string{
			PurposeDecomposition: cfg.DecompositionModel,
			PurposeSynthesis:     cfg.SynthesisModel,
		},
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Configured reports whether this provider can be called at all. A provider
// whose config names an API key env var is unconfigured until it is set.
func (p *OpenAIProvider) Configured() bool {
	return p != nil && p.baseURL != "" && (p.apiKey != "" || p.keyOptional())
}

func (p *OpenAIProvider) keyOptional() bool {
	// Local servers don't require a key.
	return p.name == "local"
}

func (p *OpenAIProvider) ModelFor(purpose Purpose) string {
	return p.models[purpose]
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage rawUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate performs one chat completion call. Any failure — network, non-2xx,
// malformed body — is returned as-is; the gateway decides about fallback.
func (p *OpenAIProvider) Generate(ctx context.Context, model, prompt string, opts Options) (string, Usage, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", Usage{}, fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("%s request: %w", p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", Usage{}, fmt.Errorf("%s read response: %w", p.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", Usage{}, fmt.Errorf("%s returned status %d: %s", p.name, resp.StatusCode, truncate(raw, 200))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", Usage{}, fmt.Errorf("%s malformed response: %w", p.name, err)
	}
	if out.Error != nil {
		return "", Usage{}, fmt.Errorf("%s error: %s", p.name, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("%s returned no choices", p.name)
	}

	return out.Choices[0].Message.Content, out.Usage.normalize(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
