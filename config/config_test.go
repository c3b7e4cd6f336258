package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/axiomkit/knowstore/config"
	"github.com/axiomkit/knowstore/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := config.NewConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.ModeEmbedded, cfg.Mode)
	assert.Equal(t, "info", cfg.Log.LogLevel)
	assert.Equal(t, "localhost", cfg.Vector.QdrantHost)
	assert.Equal(t, 6334, cfg.Vector.QdrantPort)
	assert.Equal(t, "neo4j://localhost:7687", cfg.Graph.Neo4jURI)
	assert.Equal(t, config.MemoryDriverInProcess, cfg.Memory.Driver)
	assert.Equal(t, ":memory:", cfg.Memory.SqlitePath)
	assert.Equal(t, 24*time.Hour, cfg.Memory.EventTTL)
	assert.Equal(t, 100, cfg.Memory.PromotionThreshold)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: managed
log:
  level: debug
vector:
  qdrantHost: qdrant.internal
  qdrantPort: 7001
graph:
  backend: embedded
  persistPath: /var/lib/knowstore/graph.json
memory:
  driver: sqlite
  sqlitePath: /var/lib/knowstore/memory.db
  eventTtl: 1h
`), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.ModeManaged, cfg.Mode)
	assert.Equal(t, "debug", cfg.Log.LogLevel)
	assert.Equal(t, "qdrant.internal", cfg.Vector.QdrantHost)
	assert.Equal(t, 7001, cfg.Vector.QdrantPort)
	assert.Equal(t, config.MemoryDriverSqlite, cfg.Memory.Driver)
	assert.Equal(t, time.Hour, cfg.Memory.EventTTL)

	// The per-engine override wins over the global mode.
	assert.Equal(t, config.ModeEmbedded, cfg.EngineMode(cfg.Graph.Backend))
	assert.Equal(t, config.ModeManaged, cfg.EngineMode(cfg.Vector.Backend))
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: embedded\n"), 0644))

	t.Setenv("KNOWSTORE_MODE", "managed")
	t.Setenv("QDRANT_PORT", "9334")
	t.Setenv("QDRANT_USE_TLS", "true")
	t.Setenv("EVENT_TTL", "30m")
	t.Setenv("PROMOTION_THRESHOLD", "250")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.ModeManaged, cfg.Mode)
	assert.Equal(t, 9334, cfg.Vector.QdrantPort)
	assert.True(t, cfg.Vector.QdrantUseTLS)
	assert.Equal(t, 30*time.Minute, cfg.Memory.EventTTL)
	assert.Equal(t, 250, cfg.Memory.PromotionThreshold)
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Mode = "hybrid"
	assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidConfig)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
