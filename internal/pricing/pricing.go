package pricing

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// config mirrors the pricing section of config/models.yaml.
type config struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
		Models map[string]struct {
			InputPer1K  float64 `yaml:"input_per_1k"`
			OutputPer1K float64 `yaml:"output_per_1k"`
		} `yaml:"models"`
	} `yaml:"pricing"`
}

var (
	mu          sync.RWMutex
	loaded      *config
	initialized bool
)

var defaultPaths = []string{
	os.Getenv("MODELS_CONFIG_PATH"),
	"/app/config/models.yaml",
	"./config/models.yaml",
}

// findUpConfig walks parent directories looking for config/models.yaml,
// which keeps package tests working from nested package paths.
func findUpConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "models.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		wd = filepath.Dir(wd)
	}
	return "", false
}

func loadLocked() {
	var cfg config
	paths := append([]string{}, defaultPaths...)
	if p, ok := findUpConfig(); ok {
		paths = append(paths, p)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			zap.L().Warn("Failed to parse pricing config", zap.String("path", p), zap.Error(err))
			continue
		}
		cfg = tmp
		break
	}
	if cfg.Pricing.Defaults.CombinedPer1K == 0 {
		// Conservative default so cost accounting never reports zero
		// for real usage when the table is missing.
		cfg.Pricing.Defaults.CombinedPer1K = 0.002
	}
	loaded = &cfg
	initialized = true
}

func ensureLoaded() {
	mu.RLock()
	ok := initialized
	mu.RUnlock()
	if ok {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
}

// Reload re-reads the pricing table; used by config hot-reload.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	loadLocked()
}

// CostUSD returns the cost for the given model and token counts. Model names
// are matched case-insensitively; unknown models use the combined default rate.
func CostUSD(model string, promptTokens, completionTokens int) float64 {
	ensureLoaded()
	mu.RLock()
	defer mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(model))
	if entry, ok := loaded.Pricing.Models[key]; ok {
		return float64(promptTokens)/1000*entry.InputPer1K +
			float64(completionTokens)/1000*entry.OutputPer1K
	}
	total := promptTokens + completionTokens
	return float64(total) / 1000 * loaded.Pricing.Defaults.CombinedPer1K
}
