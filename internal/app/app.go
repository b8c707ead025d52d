// Package app wires configuration, the AI backend, collectors and storage
// into a pipeline engine for the command entrypoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/ai"
	"github.com/david/opportunity-monitor/internal/checkpoint"
	"github.com/david/opportunity-monitor/internal/config"
	"github.com/david/opportunity-monitor/internal/db"
	"github.com/david/opportunity-monitor/internal/ingest"
	"github.com/david/opportunity-monitor/internal/logging"
	"github.com/david/opportunity-monitor/internal/pipeline"
)

// LoadEnv reads .env when present and returns the process secrets. It also
// initializes the global logger.
func LoadEnv() (*config.Secrets, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, err
	}
	logging.Init(secrets.LogLevel)
	return secrets, nil
}

// LoadSettings loads the settings file (the embedded defaults when path is
// empty) and applies environment overrides.
func LoadSettings(path string, secrets *config.Secrets) (*config.Settings, error) {
	if path == "" {
		path = secrets.SettingsPath
	}
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	secrets.ApplyOverrides(settings)
	return settings, nil
}

type App struct {
	Settings    config.Settings
	Secrets     *config.Secrets
	Checkpoints *checkpoint.Store
	AI          *ai.Service
	Engine      *pipeline.Engine

	generator ai.Generator
}

// New builds the engine for settings. The AI backend is required because
// classification cannot run without it.
func New(ctx context.Context, settings config.Settings, secrets *config.Secrets) (*App, error) {
	log := zap.S().Named("app")

	gen, err := ai.NewGenerator(ctx, settings.LLM, secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM backend: %w", err)
	}
	service := ai.NewService(gen, settings.CompanyProfile, settings.Classifier.Temperature)

	store := checkpoint.NewStore(settings.Checkpoint.Dir, settings.Location())

	var archiver checkpoint.Archiver
	if secrets.Minio.Enabled() {
		a, err := checkpoint.NewMinioArchiver(secrets.Minio)
		if err != nil {
			gen.Close()
			return nil, err
		}
		archiver = a
		log.Infow("checkpoint archive enabled", "endpoint", secrets.Minio.Endpoint, "bucket", secrets.Minio.Bucket)
	}

	collectors := ingest.NewRegistry(settings, service).Enabled()
	log.Infow("engine ready", "scope", settings.ScopeSummary(), "llm", settings.LLM.Provider, "collectors", len(collectors))

	engine := pipeline.NewEngine(settings, pipeline.Deps{
		Collectors: collectors,
		Classifier: service,
		Dates:      service,
		Store:      store,
		Archiver:   archiver,
	})

	return &App{
		Settings:    settings,
		Secrets:     secrets,
		Checkpoints: store,
		AI:          service,
		Engine:      engine,
		generator:   gen,
	}, nil
}

func (a *App) Close() error {
	return a.generator.Close()
}

// OpenHistory connects to Postgres and applies migrations. It returns a nil
// store when DATABASE_URL is not set.
func OpenHistory(ctx context.Context, secrets *config.Secrets) (*db.Store, func(), error) {
	if secrets.DatabaseURL == "" {
		return nil, func() {}, nil
	}
	pool, err := db.Connect(ctx, secrets.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	return db.NewStore(pool), pool.Close, nil
}

// PersistFunc returns a DoneFunc writing finished runs to store, or nil when
// store is nil.
func PersistFunc(store *db.Store) pipeline.DoneFunc {
	if store == nil {
		return nil
	}
	log := zap.S().Named("history")
	return func(ctx context.Context, snap pipeline.Snapshot, res *pipeline.Result) {
		if err := store.Persist(ctx, snap, res); err != nil {
			log.Errorw("failed to persist run", "run_id", snap.ID, "error", err)
			return
		}
		log.Infow("run persisted", "run_id", snap.ID, "status", snap.Status)
	}
}
