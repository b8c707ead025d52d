package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/api"
	"github.com/david/opportunity-monitor/internal/app"
	"github.com/david/opportunity-monitor/internal/auth"
	"github.com/david/opportunity-monitor/internal/pipeline"
)

const defaultRunTimeout = 2 * time.Hour

func main() {
	secrets, err := app.LoadEnv()
	if err != nil {
		zap.S().Fatal(err)
	}
	log := zap.S().Named("server")
	defer zap.L().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := app.LoadSettings("", secrets)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	a, err := app.New(ctx, *settings, secrets)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	history, closeDB, err := app.OpenHistory(ctx, secrets)
	if err != nil {
		log.Fatalf("failed to open run history: %v", err)
	}
	defer closeDB()

	authService, err := auth.NewService(secrets.AdminSecret, secrets.JWTSecret)
	if err != nil {
		log.Fatal(err)
	}

	registry := pipeline.NewRegistry(a.Engine.Run, defaultRunTimeout, app.PersistFunc(history))

	opts := api.Options{
		Settings:    a.Settings,
		Registry:    registry,
		Checkpoints: a.Checkpoints,
		Auth:        authService,
	}
	if history != nil {
		opts.History = history
	}
	srv := api.NewServer(opts)

	go func() {
		log.Infof("server starting on port %s...", secrets.Port)
		if err := srv.Start(secrets.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown incomplete", "error", err)
	}
}
