package cli

import (
	"context"
	"log/slog"

	"github.com/roach88/pilotforge/internal/config"
	"github.com/roach88/pilotforge/internal/engine"
	"github.com/roach88/pilotforge/internal/library"
	"github.com/roach88/pilotforge/internal/oracle"
	"github.com/roach88/pilotforge/internal/planner"
	"github.com/roach88/pilotforge/internal/provider"
	"github.com/roach88/pilotforge/internal/store"
)

// app holds what a command opened; Close releases it.
type app struct {
	opts    *RootOptions
	cfg     config.Config
	store   *store.Store
	library *library.Library
}

func openApp(opts *RootOptions) (*app, error) {
	env, err := config.NewEnv(opts.EnvFiles...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read env files", err)
	}
	cfg, err := config.Load(opts.Config, env)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.DB != "" {
		cfg.DB = opts.DB
	}

	slog.Debug("opening database", "path", cfg.DB)
	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	lib, err := library.New(st)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open library", err)
	}
	return &app{opts: opts, cfg: cfg, store: st, library: lib}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

func (a *app) planner() *planner.Planner {
	return planner.New(a.library)
}

// engine builds the generation services from the configuration.
func (a *app) engine(ctx context.Context) (*engine.Engine, error) {
	providers, err := provider.BuildRegistry(a.cfg.Providers)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build providers", err)
	}
	blobs, err := a.cfg.OpenBlobStore()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open payload store", err)
	}
	o, err := oracle.New(ctx, a.cfg.Oracle)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build oracle", err)
	}

	var opts []engine.Option
	if a.opts.RunIDs != nil {
		opts = append(opts, engine.WithRunIDs(a.opts.RunIDs))
	}
	return engine.New(a.library, providers, blobs, o, opts...), nil
}
