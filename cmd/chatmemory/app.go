package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/szaher/chatmemory/internal/config"
	"github.com/szaher/chatmemory/internal/inject"
	"github.com/szaher/chatmemory/internal/llm"
	"github.com/szaher/chatmemory/internal/session"
	"github.com/szaher/chatmemory/internal/summary"
	"github.com/szaher/chatmemory/internal/telemetry"
)

// app holds the components shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	store      session.Store
	summarizer *summary.Summarizer
	injector   *inject.Injector
}

func newApp(ctx context.Context) (*app, error) {
	level := telemetry.ParseLevel(cfg.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	// stdout carries MCP framing in serve mode, so logs always go to stderr.
	logger := telemetry.NewLogger(os.Stderr, level, cfg.LLM.APIKey)

	store, err := openStore(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}

	client, model := llm.NewClientForModel(cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	metrics := telemetry.NewMetrics()

	sum := summary.New(store, client,
		summary.WithModel(model),
		summary.WithTemperature(cfg.LLM.Temperature),
		summary.WithLogger(logger),
		summary.WithMetrics(metrics),
	)
	inj := inject.New(store, sum,
		inject.WithLogger(logger),
		inject.WithMetrics(metrics),
	)

	logger.Debug("components initialized", "driver", cfg.DB.Driver, "model", cfg.LLM.Model)
	return &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		store:      store,
		summarizer: sum,
		injector:   inj,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// openStore opens the backend selected by db.driver.
func openStore(ctx context.Context, db config.DBConfig) (session.Store, error) {
	switch db.Driver {
	case config.DriverMemory:
		return session.NewMemoryStore(), nil
	case config.DriverPostgres:
		store, err := session.OpenPostgres(ctx, db.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		if dir := filepath.Dir(db.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		store, err := session.OpenSQLite(db.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
}
