package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1273, cfg.Map.Cols)
	assert.Equal(t, 1, cfg.Map.CellSize)
	assert.Equal(t, 0.05, cfg.View.MinZoom)
	assert.Equal(t, 50.0, cfg.View.MaxZoom)
	assert.Equal(t, 1.2, cfg.View.ButtonStep)
	assert.Equal(t, 1.1, cfg.View.WheelStep)
	assert.Equal(t, 5.0, cfg.View.DragThreshold)
	assert.Equal(t, 15*time.Second, cfg.View.IdleReset)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, int64(16<<20), cfg.Images.MaxPixels)
	assert.Equal(t, 256, cfg.Images.MaxSide)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PIXELMAP_MAP_COLS", "200")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Map.Cols)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "store:\n  backend: redis\nview:\n  idle_reset: 30s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pixelmap.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.View.IdleReset)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pixelmap.yaml"), []byte("store:\n  backend: mysql\n"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
