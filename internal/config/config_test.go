package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "features.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadReadsFeaturesYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
steering:
  window_seconds: 120
search:
  agent_timeout_seconds: 10
  max_attempts: 3
gateway:
  primary:
    name: local
    base_url: http://localhost:8000/v1
    synthesis_model: test-model
`)
	t.Setenv("CONFIG_PATH", path)

	f, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 120, f.Steering.WindowSeconds)
	assert.Equal(t, 2*time.Minute, f.Steering.Window())
	assert.Equal(t, 10*time.Second, f.Search.AgentTimeout())
	assert.Equal(t, "local", f.Gateway.Primary.Name)
	assert.Equal(t, "test-model", f.Gateway.Primary.SynthesisModel)
}

func TestDefaultsWhenUnset(t *testing.T) {
	f := Defaults()
	assert.Equal(t, 5*time.Minute, f.Steering.Window())
	assert.Equal(t, 30*time.Second, f.Search.AgentTimeout())
	assert.NotEmpty(t, f.Gateway.Primary.BaseURL)
	assert.NotEmpty(t, f.Gateway.Secondary.BaseURL)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "steering:\n  window_seconds: 600\n")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("STEERING_WINDOW_SECONDS", "45")

	f, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45, f.Steering.WindowSeconds)
}

func TestManagerHotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "steering:\n  window_seconds: 60\n")
	t.Setenv("CONFIG_PATH", path)

	m, err := NewManager(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Stop()

	reloaded := make(chan *Features, 1)
	m.OnChange(func(f *Features) {
		select {
		case reloaded <- f:
		default:
		}
	})
	require.NoError(t, m.Start())
	assert.Equal(t, 60, m.Current().Steering.WindowSeconds)

	writeConfig(t, dir, "steering:\n  window_seconds: 90\n")

	select {
	case f := <-reloaded:
		assert.Equal(t, 90, f.Steering.WindowSeconds)
		assert.Equal(t, 90, m.Current().Steering.WindowSeconds)
	case <-time.After(5 * time.Second):
		t.Fatal("reload handler not invoked")
	}
}
