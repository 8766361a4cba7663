package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/averlane/parley/internal/approval"
	"github.com/averlane/parley/internal/auth"
	"github.com/averlane/parley/internal/config"
	"github.com/averlane/parley/internal/httpapi"
	"github.com/averlane/parley/internal/registry"
	"github.com/averlane/parley/internal/router"
	"github.com/averlane/parley/internal/securelog"
	"github.com/averlane/parley/internal/storage"
	"github.com/averlane/parley/internal/ws"
)

func main() {
	if err := run(); err != nil {
		securelog.Error("server.run", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	storeCtx, cancelStore := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStore()
	store, err := storage.NewPostgresStore(storeCtx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelMigrate()
	if err := store.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	groups := registry.NewGroups()
	reg := registry.New(groups)
	rt := router.New(reg, groups, store.Messages())
	authService := auth.NewService(store.UserRecords())
	approvalService := approval.NewService(store.UserRecords(), rt)
	gateway := ws.NewGateway(authService, reg, groups)
	api := httpapi.NewHandler(authService, approvalService, store.UserRecords(), store.Messages(), rt, reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ws", gateway.HandleWS)
	api.Register(mux)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			securelog.Info("server", "listening with TLS on "+cfg.ListenAddr)
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}

		securelog.Info("server", "listening on "+cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err = <-errCh
	case err = <-errCh:
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
