package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	TypeSQLite = "sqlite"
	TypeBadger = "badger"
)

// Options selects and locates the round store backend.
type Options struct {
	Type       string
	SQLitePath string
	BadgerDir  string
}

// Open constructs the configured backend and runs its migrations.
func Open(ctx context.Context, opts Options) (RoundStore, error) {
	var (
		st  RoundStore
		err error
	)
	switch opts.Type {
	case TypeSQLite, "":
		if err := ensureDir(filepath.Dir(opts.SQLitePath)); err != nil {
			return nil, err
		}
		st, err = NewSQLiteStore(opts.SQLitePath)
	case TypeBadger:
		if err := ensureDir(opts.BadgerDir); err != nil {
			return nil, err
		}
		st, err = NewBadgerStore(opts.BadgerDir)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", opts.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return st, nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	return nil
}
