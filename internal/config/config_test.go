package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/plinko-fair/internal/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plinko.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def, cfg)
	assert.Equal(t, store.TypeSQLite, cfg.Storage.Type)
	assert.Equal(t, 16, cfg.Game.Rows)
	assert.Equal(t, "normal", cfg.Game.Risk)
	assert.Equal(t, "latin1", cfg.Game.Encoding)
	assert.Equal(t, 99.0, cfg.Fairness.Ceiling)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
storage:
  type: badger
  badger_dir: /tmp/plinko-badger
vault:
  backend: memory
log:
  level: debug
  no_color: true
game:
  rows: 12
  risk: high
  encoding: utf8
fairness:
  ceiling: 98.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, store.TypeBadger, cfg.Storage.Type)
	assert.Equal(t, "/tmp/plinko-badger", cfg.Storage.BadgerDir)
	assert.NotEmpty(t, cfg.Storage.SQLitePath, "unset keys keep defaults")
	assert.Equal(t, VaultMemory, cfg.Vault.Backend)
	assert.Equal(t, "plinko-fair", cfg.Vault.Service)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.NoColor)
	assert.Equal(t, 12, cfg.Game.Rows)
	assert.Equal(t, "high", cfg.Game.Risk)
	assert.Equal(t, "utf8", cfg.Game.Encoding)
	assert.Equal(t, 98.5, cfg.Fairness.Ceiling)

	opts := cfg.StoreOptions()
	assert.Equal(t, store.TypeBadger, opts.Type)
	assert.Equal(t, "/tmp/plinko-badger", opts.BadgerDir)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
game:
  rows: 12
  risk: low
`)
	t.Setenv("PLINKO_GAME_ROWS", "14")
	t.Setenv("PLINKO_STORAGE_SQLITE_PATH", "/tmp/rounds.db")
	t.Setenv("PLINKO_LOG_LEVEL", "warn")
	t.Setenv("PLINKO_FAIRNESS_CEILING", "97.25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.Game.Rows)
	assert.Equal(t, "low", cfg.Game.Risk, "file value kept when env is unset")
	assert.Equal(t, "/tmp/rounds.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 97.25, cfg.Fairness.Ceiling)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("PLINKO_GAME_ROWS", "sixteen")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "game: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Storage.Type = "postgres"
	cfg.Vault.Backend = "hsm"
	cfg.Log.Level = "chatty"
	cfg.Game.Rows = 20
	cfg.Game.Risk = "extreme"
	cfg.Game.Encoding = "ebcdic"
	cfg.Fairness.Ceiling = 0

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, field := range []string{"storage.type", "vault.backend", "log.level", "game.rows", "game.risk", "game.encoding", "fairness.ceiling"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestValidateRequiresBackendPath(t *testing.T) {
	cfg := Default()
	cfg.Storage.SQLitePath = " "
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Default()
	cfg.Storage.Type = store.TypeBadger
	cfg.Storage.BadgerDir = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestTables(t *testing.T) {
	cfg := Default()
	table, err := cfg.Tables()
	require.NoError(t, err)
	assert.Equal(t, []int{8, 9, 10, 11, 12, 13, 14, 15, 16}, table.Rows())

	cfg.Game.TablesPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.Tables()
	assert.Error(t, err)
}
