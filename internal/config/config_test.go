package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLOverlayPartialOverridesOnlyNamedFields(t *testing.T) {
	cfg := DefaultHeatConfig()
	cfg.SensorPath = "/sys/class/hwmon/hwmon0/temp1_input"

	path := filepath.Join(t.TempDir(), "heatppm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wait: 8\nrelaxed: true\n"), 0o644))

	require.NoError(t, LoadYAMLOverlay(path, &cfg))

	assert.Equal(t, int64(8), cfg.Wait)
	assert.True(t, cfg.Relaxed)
	// Fields the YAML document omits keep their prior value.
	assert.Equal(t, int64(85), cfg.MaxTempC)
	assert.Equal(t, "/sys/class/hwmon/hwmon0/temp1_input", cfg.SensorPath)
}

func TestLoadYAMLOverlayMissingFileIsError(t *testing.T) {
	cfg := DefaultIdleConfig()
	err := LoadYAMLOverlay(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	assert.Error(t, err)
}

func TestDefaultConfigsMatchDocumentedDefaults(t *testing.T) {
	h := DefaultHeatConfig()
	assert.Equal(t, int64(5), h.Wait)
	assert.Equal(t, int64(85), h.MaxTempC)
	assert.Equal(t, int64(15), h.MinSkewPPB)
	assert.False(t, h.Relaxed)

	i := DefaultIdleConfig()
	assert.Equal(t, 0, i.Core)
	assert.Equal(t, 1, i.Priority)
	assert.Equal(t, int64(50), i.LatencyUS)
	assert.Equal(t, "/run/unidled.pid", i.PIDFile)
}
