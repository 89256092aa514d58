package modelgateway

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/metrics"
)

// Purpose selects the model identity for a call.
type Purpose string

const (
	PurposeDecomposition Purpose = "decomposition"
	PurposeSynthesis     Purpose = "synthesis"
)

// Usage is the normalized token accounting shape.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Options tunes a single generation call.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Result is a successful generation with the provider that served it.
type Result struct {
	Text     string `json:"text"`
	Usage    Usage  `json:"usage"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Provider is a single upstream model endpoint.
type Provider interface {
	Name() string
	Configured() bool
	ModelFor(purpose Purpose) string
	Generate(ctx context.Context, model, prompt string, opts Options) (string, Usage, error)
}

// BothProvidersError reports that the primary and secondary providers both
// failed for one call. The gateway never retries a provider itself; retry
// policy belongs to the caller wrapping the whole step.
type BothProvidersError struct {
	Primary      string
	PrimaryErr   error
	Secondary    string
	SecondaryErr error
}

func (e *BothProvidersError) Error() string {
	if e.SecondaryErr == nil {
		return fmt.Sprintf("model gateway exhausted: %s failed (%v); no secondary configured", e.Primary, e.PrimaryErr)
	}
	return fmt.Sprintf("model gateway exhausted: %s failed (%v); %s failed (%v)",
		e.Primary, e.PrimaryErr, e.Secondary, e.SecondaryErr)
}

// IsExhausted reports whether err means both providers failed.
func IsExhausted(err error) bool {
	var e *BothProvidersError
	return errors.As(err, &e)
}

// Gateway fronts a primary provider with a single secondary fallback hop.
type Gateway struct {
	primary   Provider
	secondary Provider
	logger    *zap.Logger
}

// New creates a gateway. secondary may be nil or unconfigured.
func New(primary, secondary Provider, logger *zap.Logger) *Gateway {
	return &Gateway{primary: primary, secondary: secondary, logger: logger}
}

// Generate attempts the primary provider, then the secondary exactly once on
// any primary failure. Both failing yields a single composite error.
func (g *Gateway) Generate(ctx context.Context, prompt string, purpose Purpose, opts Options) (*Result, error) {
	model := g.primary.ModelFor(purpose)
	text, usage, primaryErr := g.primary.Generate(ctx, model, prompt, opts)
	if primaryErr == nil {
		metrics.GatewayCalls.WithLabelValues(g.primary.Name(), string(purpose), "ok").Inc()
		metrics.TokensUsed.WithLabelValues(string(purpose)).Add(float64(usage.TotalTokens))
		return &Result{Text: text, Usage: usage, Provider: g.primary.Name(), Model: model}, nil
	}
	metrics.GatewayCalls.WithLabelValues(g.primary.Name(), string(purpose), "error").Inc()

	if g.secondary == nil || !g.secondary.Configured() {
		return nil, &BothProvidersError{Primary: g.primary.Name(), PrimaryErr: primaryErr}
	}

	g.logger.Warn("Primary provider failed, attempting secondary",
		zap.String("primary", g.primary.Name()),
		zap.String("purpose", string(purpose)),
		zap.Error(primaryErr),
	)
	metrics.GatewayFallbacks.Inc()

	model = g.secondary.ModelFor(purpose)
	text, usage, secondaryErr := g.secondary.Generate(ctx, model, prompt, opts)
	if secondaryErr != nil {
		metrics.GatewayCalls.WithLabelValues(g.secondary.Name(), string(purpose), "error").Inc()
		return nil, &BothProvidersError{
			Primary:      g.primary.Name(),
			PrimaryErr:   primaryErr,
			Secondary:    g.secondary.Name(),
			SecondaryErr: secondaryErr,
		}
	}

	metrics.GatewayCalls.WithLabelValues(g.secondary.Name(), string(purpose), "ok").Inc()
	metrics.TokensUsed.WithLabelValues(string(purpose)).Add(float64(usage.TotalTokens))
	return &Result{Text: text, Usage: usage, Provider: g.secondary.Name(), Model: model}, nil
}
