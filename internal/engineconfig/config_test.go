package engineconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/technosupport/vision-compliance/internal/engineconfig"
)

func TestDefaultMatchesSpec(t *testing.T) {
	cfg := engineconfig.Default()
	require.Equal(t, 0.10, cfg.ChangeThreshold)
	require.Equal(t, 0.5, cfg.MinChangeInterval)
	require.Equal(t, 10.0, cfg.MaxGap)
	require.Equal(t, 0.95, cfg.EarlyExitSimilarity)
	require.Equal(t, 512, cfg.KeyframeMaxWidth)
	require.Equal(t, 5, cfg.DispatchBatchSize)
	require.Equal(t, 30, cfg.RateLimitPerMinute)
	require.Equal(t, 500, cfg.RateLimitPerHour)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := engineconfig.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, engineconfig.Default(), cfg)
}

func TestLoadOverridesAndWarnsOnUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("change_threshold: 0.25\nmax_gap: 20\nbogus_future_field: true\n"), 0o644))

	cfg, err := engineconfig.Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.25, cfg.ChangeThreshold)
	require.Equal(t, 20.0, cfg.MaxGap)
	// everything else still defaulted
	require.Equal(t, 0.5, cfg.MinChangeInterval)
}
