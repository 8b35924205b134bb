package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
grid:
  planes: 3
  rows: 4
  columns: 4
scoring:
  score_per_plane: 100
timing:
  start_timeout: 1.5
match:
  debug_mode: true
storage:
  backend: sqlite
  path: /tmp/best.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, GridConfig{Planes: 3, Rows: 4, Columns: 4}, cfg.Grid)
	assert.Equal(t, 16, cfg.Grid.CubesPerPlane())
	assert.Equal(t, 1.5, cfg.Timing.StartTimeout)
	assert.Equal(t, 0.3, cfg.Timing.MinTimeout, "незаданные поля берутся из дефолтов")
	assert.True(t, cfg.Match.DebugMode)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "grid:\n  planes: 20\n")
	t.Setenv("GAME_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Grid.Planes)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("дефолты корректны", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})

	t.Run("нулевой слой", func(t *testing.T) {
		cfg := Default()
		cfg.Grid.Planes = 0
		assert.ErrorIs(t, cfg.Validate(), ErrBadGrid)
	})

	t.Run("сетка меньше фигуры", func(t *testing.T) {
		cfg := Default()
		cfg.Grid.Rows = 3
		assert.ErrorIs(t, cfg.Validate(), ErrBadGrid)
	})

	t.Run("минимум больше старта", func(t *testing.T) {
		cfg := Default()
		cfg.Timing.MinTimeout = 5
		assert.ErrorIs(t, cfg.Validate(), ErrBadTiming)
	})

	t.Run("неизвестный владелец фигуры", func(t *testing.T) {
		cfg := Default()
		cfg.Match.PieceOwner = "spectator"
		assert.Error(t, cfg.Validate())
	})
}

func TestPortFallback(t *testing.T) {
	s := &ServerConfig{}
	assert.Equal(t, 8088, s.GetRESTPort())

	t.Setenv("GAME_KCP_PORT", "9999")
	assert.Equal(t, 9999, s.GetKCPPort())

	s.KCPPort = 7000
	assert.Equal(t, 7000, s.GetKCPPort())
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yml"))
	require.NoError(t, err)

	def := Default()
	def.Server.Host = "0.0.0.0"
	def.Server.KCPPort = 7777
	def.Server.RESTPort = 8088
	def.Server.MetricsPort = 2112
	def.EventBus.URL = "nats://localhost:4222"
	def.Storage.Redis.Addr = "localhost:6379"
	def.Storage.Mongo.URI = "mongodb://localhost:27017"
	def.Storage.Mongo.Database = "cubestack"
	def.Storage.Mongo.Collection = "scores"
	assert.Equal(t, def, cfg)
}
