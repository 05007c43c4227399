package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/MJE43/plinko-fair/internal/digest"
	"github.com/MJE43/plinko-fair/internal/fairness"
	"github.com/MJE43/plinko-fair/internal/logger"
	"github.com/MJE43/plinko-fair/internal/payout"
	"github.com/MJE43/plinko-fair/internal/plinko"
	"github.com/MJE43/plinko-fair/internal/store"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PLINKO_"

const (
	VaultKeyring = "keyring"
	VaultMemory  = "memory"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Vault    VaultConfig    `yaml:"vault" envPrefix:"VAULT_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Game     GameConfig     `yaml:"game" envPrefix:"GAME_"`
	Fairness FairnessConfig `yaml:"fairness" envPrefix:"FAIRNESS_"`
}

type StorageConfig struct {
	Type       string `yaml:"type" env:"TYPE"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	BadgerDir  string `yaml:"badger_dir" env:"BADGER_DIR"`
}

// VaultConfig locates unrevealed server seeds.
type VaultConfig struct {
	Backend      string `yaml:"backend" env:"BACKEND"`
	Service      string `yaml:"service" env:"SERVICE"`
	FallbackPath string `yaml:"fallback_path" env:"FALLBACK_PATH"`
}

type LogConfig struct {
	Level   string `yaml:"level" env:"LEVEL"`
	NoColor bool   `yaml:"no_color" env:"NO_COLOR"`
}

type GameConfig struct {
	Rows       int    `yaml:"rows" env:"ROWS"`
	Risk       string `yaml:"risk" env:"RISK"`
	Encoding   string `yaml:"encoding" env:"ENCODING"`
	TablesPath string `yaml:"tables_path" env:"TABLES_PATH"`
}

type FairnessConfig struct {
	Ceiling float64 `yaml:"ceiling" env:"CEILING"`
}

// DataDir is where local state lives when paths are not configured.
func DataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "plinko-fair")
	}
	return ".plinko-fair"
}

// Default returns a config with every field set.
func Default() *Config {
	dir := DataDir()
	return &Config{
		Storage: StorageConfig{
			Type:       store.TypeSQLite,
			SQLitePath: filepath.Join(dir, "rounds.db"),
			BadgerDir:  filepath.Join(dir, "badger"),
		},
		Vault: VaultConfig{
			Backend:      VaultKeyring,
			Service:      "plinko-fair",
			FallbackPath: filepath.Join(dir, "server_seeds.json"),
		},
		Log: LogConfig{Level: "info"},
		Game: GameConfig{
			Rows:     plinko.DefaultRows,
			Risk:     string(plinko.DefaultRisk),
			Encoding: string(digest.EncodingLatin1),
		},
		Fairness: FairnessConfig{Ceiling: fairness.DefaultCeiling.InexactFloat64()},
	}
}

// Load layers defaults, the YAML file at path and PLINKO_* environment
// variables, in that order. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case store.TypeSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required"))
		}
	case store.TypeBadger:
		if strings.TrimSpace(c.Storage.BadgerDir) == "" {
			errs = append(errs, errors.New("storage.badger_dir is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type %q is not one of sqlite, badger", c.Storage.Type))
	}

	switch c.Vault.Backend {
	case VaultKeyring, VaultMemory:
	default:
		errs = append(errs, fmt.Errorf("vault.backend %q is not one of keyring, memory", c.Vault.Backend))
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if err := plinko.ValidateRows(c.Game.Rows); err != nil {
		errs = append(errs, fmt.Errorf("game.rows: %w", err))
	}
	if _, err := payout.ParseRisk(c.Game.Risk); err != nil {
		errs = append(errs, fmt.Errorf("game.risk: %w", err))
	}
	if _, err := digest.ParseEncoding(c.Game.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("game.encoding: %w", err))
	}
	if c.Fairness.Ceiling <= 0 {
		errs = append(errs, fmt.Errorf("fairness.ceiling must be positive, got %v", c.Fairness.Ceiling))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// StoreOptions maps the storage section onto store.Open.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Type:       c.Storage.Type,
		SQLitePath: c.Storage.SQLitePath,
		BadgerDir:  c.Storage.BadgerDir,
	}
}

// Tables loads the payout override file, or the embedded tables when none
// is configured.
func (c *Config) Tables() (*payout.Table, error) {
	if c.Game.TablesPath == "" {
		return payout.Default()
	}
	return payout.LoadFile(c.Game.TablesPath)
}
