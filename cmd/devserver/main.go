package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/crimecity-live/internal/config"
	"github.com/DoyleJ11/crimecity-live/internal/httpapi"
	"github.com/DoyleJ11/crimecity-live/internal/hub"
	"github.com/DoyleJ11/crimecity-live/internal/logger"
	"github.com/DoyleJ11/crimecity-live/internal/store"
)

func main() {
	configPath := flag.String("config", "crimecity.yaml", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.Env, cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	h := hub.NewHub(ctx, log)

	// Build the router *with* the hub injected
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           httpapi.SetupRoutes(h, st, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Send(hub.ShutdownHub{})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("using in-memory store")
		return store.NewSeeded(), func() {}, nil
	}

	gs, err := store.OpenGorm(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := gs.SeedIfEmpty(ctx); err != nil {
		_ = gs.Close()
		return nil, nil, fmt.Errorf("seed: %w", err)
	}
	log.Info("using postgres store")
	return gs, func() { _ = gs.Close() }, nil
}
