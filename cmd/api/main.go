// Command api runs the econlab authentication and authorization service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"econlab.org/internal/auth"
	"econlab.org/internal/config"
	"econlab.org/internal/econ"
	"econlab.org/internal/httpapi"
	"econlab.org/internal/obs"
	"econlab.org/internal/store/pg"
	"econlab.org/internal/store/sqlite"
)

var version = "dev"

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, econSvc, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = store.Init(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	tokens, err := auth.NewTokenManager(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, tokens,
		auth.WithBcryptCost(cfg.BcryptCost),
		auth.WithDefaultTenant(cfg.DefaultTenant),
		auth.WithDefaultCountry(cfg.DefaultCountry),
		auth.WithStoreTimeout(cfg.StoreTimeout),
	)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Deps{
		Auth:  svc,
		Econ:  econSvc,
		Probe: store.Ping,
	}, version, httpapi.Options{
		RateBurst:  cfg.RateBurst,
		RatePerSec: cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.Event("server.listening", map[string]any{
			"addr":    cfg.Addr,
			"engine":  cfg.StoreEngine,
			"version": version,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	obs.Event("server.shutdown", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore selects the storage engine once at startup. Both engines
// satisfy the same adapter interface, so nothing downstream branches on
// the choice.
func openStore(cfg *config.Config) (auth.Store, econ.Service, error) {
	switch cfg.StoreEngine {
	case config.EnginePostgres:
		st, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	default:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	}
}
