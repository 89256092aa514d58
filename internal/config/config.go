package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// SteeringConfig controls the human-in-the-loop checkpoint.
type SteeringConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
}

// Window returns the steering wait duration, defaulting to 5 minutes.
func (s SteeringConfig) Window() time.Duration {
	if s.WindowSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.WindowSeconds) * time.Second
}

// SearchConfig bounds the parallel agent fan-out.
type SearchConfig struct {
	AgentTimeoutSeconds int `mapstructure:"agent_timeout_seconds"`
	MaxAttempts         int `mapstructure:"max_attempts"`
	InitialBackoffMs    int `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs        int `mapstructure:"max_backoff_ms"`
	DefaultMaxSources   int `mapstructure:"default_max_sources"`
}

// AgentTimeout returns the per-attempt hard timeout, defaulting to 30s.
func (s SearchConfig) AgentTimeout() time.Duration {
	if s.AgentTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.AgentTimeoutSeconds) * time.Second
}

// ProviderConfig describes one model provider endpoint.
type ProviderConfig struct {
	Name              string  `mapstructure:"name"`
	BaseURL           string  `mapstructure:"base_url"`
	APIKeyEnv         string  `mapstructure:"api_key_env"`
	DecompositionModel string `mapstructure:"decomposition_model"`
	SynthesisModel    string  `mapstructure:"synthesis_model"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RateLimitPerSec   float64 `mapstructure:"rate_limit_per_sec"`
}

// GatewayConfig holds primary and secondary model providers.
type GatewayConfig struct {
	Primary   ProviderConfig `mapstructure:"primary"`
	Secondary ProviderConfig `mapstructure:"secondary"`
}

// ObservabilityConfig mirrors the features.yaml observability section.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Tracing struct {
		Enabled      bool   `mapstructure:"enabled"`
		ServiceName  string `mapstructure:"service_name"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"tracing"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Features is the root of features.yaml.
type Features struct {
	Steering      SteeringConfig      `mapstructure:"steering"`
	Search        SearchConfig        `mapstructure:"search"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// Load reads features.yaml from CONFIG_PATH or ./config/features.yaml.
func Load() (*Features, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/features.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var f Features
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&f)
	return &f, nil
}

// Defaults returns a usable configuration when no features.yaml is present.
func Defaults() *Features {
	f := &Features{}
	f.Steering.WindowSeconds = 300
	f.Search.AgentTimeoutSeconds = 30
	f.Search.MaxAttempts = 3
	f.Search.InitialBackoffMs = 1000
	f.Search.MaxBackoffMs = 8000
	f.Search.DefaultMaxSources = 20
	f.Gateway.Primary = ProviderConfig{
		Name:               "local",
		BaseURL:            "http://llm-primary:8000/v1",
		DecompositionModel: "qwen2.5-14b-instruct",
		SynthesisModel:     "qwen2.5-32b-instruct",
		TimeoutSeconds:     60,
	}
	f.Gateway.Secondary = ProviderConfig{
		Name:               "openai",
		BaseURL:            "https://api.openai.com/v1",
		APIKeyEnv:          "OPENAI_API_KEY",
		DecompositionModel: "gpt-4o-mini",
		SynthesisModel:     "gpt-4o",
		TimeoutSeconds:     60,
	}
	applyEnvOverrides(f)
	return f
}

// LoadOrDefaults loads features.yaml and falls back to defaults when missing.
func LoadOrDefaults() *Features {
	if f, err := Load(); err == nil {
		return f
	}
	return Defaults()
}

func applyEnvOverrides(f *Features) {
	if v := os.Getenv("STEERING_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Steering.WindowSeconds = n
		}
	}
	if v := os.Getenv("AGENT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Search.AgentTimeoutSeconds = n
		}
	}
	if v := os.Getenv("PRIMARY_LLM_BASE_URL"); v != "" {
		f.Gateway.Primary.BaseURL = v
	}
	if v := os.Getenv("SECONDARY_LLM_BASE_URL"); v != "" {
		f.Gateway.Secondary.BaseURL = v
	}
}

// MetricsPort returns the metrics port from env or config, falling back to defaultPort.
func MetricsPort(defaultPort int) int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			return n
		}
	}
	if f, err := Load(); err == nil {
		if f.Observability.Metrics.Port > 0 {
			return f.Observability.Metrics.Port
		}
	}
	return defaultPort
}
