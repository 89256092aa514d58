package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModelsYAML(t *testing.T, body string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("MODELS_CONFIG_PATH", path)
	defaultPaths[0] = path
	Reload()
}

func TestCostUSDKnownModel(t *testing.T) {
	writeModelsYAML(t, `
pricing:
  defaults:
    combined_per_1k: 0.002
  models:
    gpt-4o:
      input_per_1k: 0.005
      output_per_1k: 0.015
`)

	cost := CostUSD("gpt-4o", 1000, 2000)
	assert.InDelta(t, 0.005+2*0.015, cost, 1e-9)
}

func TestCostUSDUnknownModelUsesDefault(t *testing.T) {
	writeModelsYAML(t, `
pricing:
  defaults:
    combined_per_1k: 0.004
`)

	cost := CostUSD("never-heard-of-it", 500, 500)
	assert.InDelta(t, 0.004, cost, 1e-9)
}

func TestCostUSDCaseInsensitive(t *testing.T) {
	writeModelsYAML(t, `
pricing:
  models:
    qwen2.5-32b-instruct:
      input_per_1k: 0.001
      output_per_1k: 0.001
`)

	assert.InDelta(t, CostUSD("Qwen2.5-32B-Instruct", 1000, 0), 0.001, 1e-9)
}
