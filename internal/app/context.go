package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"purple/internal/config"
	"purple/internal/db"
	"purple/internal/dispatch"
	"purple/internal/engine"
	"purple/internal/logging"
	"purple/internal/migrate"
)

// App bundles the wired subsystems for the CLI and the HTTP server.
type App struct {
	DB       *sql.DB
	Config   *config.Config
	Engine   *engine.Engine
	Dispatch *dispatch.Dispatcher
	Log      *zap.Logger
}

// Options control how the application is assembled.
type Options struct {
	Workspace string
	LogMode   string
	Quiet     bool
}

// Open loads config, opens and migrates the database, and wires the
// dispatcher and engine. Configured labels are seeded so the gate evaluator
// always finds its vocabulary.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log, err := logger(opts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	d := dispatch.New(log)
	e := engine.New(conn, cfg, d, log)
	if err := e.SeedLabels(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &App{DB: conn, Config: cfg, Engine: e, Dispatch: d, Log: log}, nil
}

func logger(opts Options) (*zap.Logger, error) {
	mode := opts.LogMode
	if mode == "" {
		mode = "production"
	}
	return logging.New(mode, opts.Quiet)
}

func (a *App) Close() error {
	if a.Log != nil {
		_ = a.Log.Sync()
	}
	return a.DB.Close()
}
