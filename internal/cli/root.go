// Package cli wires the plinkofair command tree.
package cli

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MJE43/plinko-fair/internal/config"
	"github.com/MJE43/plinko-fair/internal/digest"
	"github.com/MJE43/plinko-fair/internal/engine"
	"github.com/MJE43/plinko-fair/internal/logger"
	"github.com/MJE43/plinko-fair/internal/payout"
	"github.com/MJE43/plinko-fair/internal/plinko"
	"github.com/MJE43/plinko-fair/internal/seed"
	"github.com/MJE43/plinko-fair/internal/store"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

type app struct {
	configPath string
	jsonOut    bool
	debug      bool

	cfg *config.Config
	log *slog.Logger
	enc digest.Encoding
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "plinkofair",
		Short:        "Provably fair Plinko outcomes: play, verify and audit",
		SilenceUsage: true,
		Version:      Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", filepath.Join(config.DataDir(), "config.yaml"), "config file (missing file means defaults)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print JSON instead of text")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logs")

	root.AddCommand(
		a.newSessionCmd(),
		a.newPlayCmd(),
		a.newRotateCmd(),
		a.newVerifyCmd(),
		a.newValidateCmd(),
		a.newScanCmd(),
		a.newHashCmd(),
		a.newVersionCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := logger.ParseLevel(cfg.Log.Level)
	if a.debug {
		level = slog.LevelDebug
	}
	a.log = logger.Init(&logger.Options{
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
		NoColor: cfg.Log.NoColor,
	})

	a.enc, err = digest.ParseEncoding(cfg.Game.Encoding)
	if err != nil {
		return err
	}
	a.log.Debug("config loaded", "path", a.configPath, "store", cfg.Storage.Type, "encoding", a.enc)
	return nil
}

// openEngine opens the round store and seed vault. The caller closes the store.
func (a *app) openEngine(ctx context.Context) (*engine.Engine, store.RoundStore, error) {
	st, err := store.Open(ctx, a.cfg.StoreOptions())
	if err != nil {
		return nil, nil, err
	}

	var vault seed.Vault
	switch a.cfg.Vault.Backend {
	case config.VaultMemory:
		a.log.Warn("memory vault in use, server seeds are lost when the process exits")
		vault = seed.NewMemoryVault()
	default:
		vault = seed.NewKeyringVault(a.cfg.Vault.Service, a.cfg.Vault.FallbackPath)
	}

	e := engine.New(st, vault, engine.WithLogger(a.log), engine.WithEncoding(a.enc))
	return e, st, nil
}

func (a *app) tables(override string) (*payout.Table, error) {
	if override != "" {
		return payout.LoadFile(override)
	}
	return a.cfg.Tables()
}

// board resolves --rows/--risk, falling back to the configured defaults.
func (a *app) board(cmd *cobra.Command, rows, risk string) (int, payout.Risk, error) {
	n := a.cfg.Game.Rows
	if cmd.Flags().Changed("rows") {
		var err error
		if n, err = plinko.ParseRows(rows); err != nil {
			return 0, "", err
		}
	} else if err := plinko.ValidateRows(n); err != nil {
		return 0, "", err
	}
	if !cmd.Flags().Changed("risk") {
		risk = a.cfg.Game.Risk
	}
	r, err := plinko.ParseRisk(risk)
	if err != nil {
		return 0, "", err
	}
	return n, r, nil
}
