// Command migrate applies the storage schema and exits. Safe to re-run:
// every statement is idempotent.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"econlab.org/internal/auth"
	"econlab.org/internal/config"
	"econlab.org/internal/obs"
	"econlab.org/internal/store/pg"
	"econlab.org/internal/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var store auth.Store
	switch cfg.StoreEngine {
	case config.EnginePostgres:
		store, err = pg.Open(cfg.PostgresDSN)
	default:
		store, err = sqlite.Open(cfg.SQLitePath)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	obs.Event("migrate.done", map[string]any{"engine": cfg.StoreEngine})
	return nil
}
