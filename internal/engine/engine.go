// Package engine runs protection jobs: it loads modules, plans the project's
// rules against them, executes each module's stages on a worker pool and
// writes the protected images.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/leapstack-labs/leapcloak/internal/framework"
	"github.com/leapstack-labs/leapcloak/internal/planner"
	"github.com/leapstack-labs/leapcloak/internal/protections"
	"github.com/leapstack-labs/leapcloak/internal/registry"
	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// Engine executes protection runs. A single Engine may serve many runs, one
// after another or concurrently.
type Engine struct {
	registry *registry.Registry
	resolver *framework.Resolver
	store    core.Store
	workers  int
	logger   *slog.Logger
}

// Config holds engine configuration.
type Config struct {
	// Registry holds the available protections (optional, defaults to the
	// built-in catalog). It is frozen on the first run.
	Registry *registry.Registry
	// Resolver identifies module frameworks (optional).
	Resolver *framework.Resolver
	// Store records run history (optional). The engine does not open or
	// close it.
	Store core.Store
	// Workers bounds how many modules are processed at once (default NumCPU).
	Workers int
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	reg := cfg.Registry
	if reg == nil {
		var err error
		if reg, err = protections.NewDefaultRegistry(); err != nil {
			return nil, fmt.Errorf("failed to build protection catalog: %w", err)
		}
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = framework.NewResolver()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	logger.Debug("initializing engine", "protections", reg.Count(), "workers", workers)

	return &Engine{
		registry: reg,
		resolver: resolver,
		store:    cfg.Store,
		workers:  workers,
		logger:   logger,
	}, nil
}

// Registry returns the engine's protection registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Resolver returns the engine's framework resolver.
func (e *Engine) Resolver() *framework.Resolver { return e.resolver }

// Plan loads the project's modules and plans its rules without rewriting or
// writing anything. Load failures are joined into the returned error.
func (e *Engine) Plan(ctx context.Context, project core.Project) (*core.Plan, error) {
	e.registry.Freeze()

	units, err := resolveUnits(project)
	if err != nil {
		return nil, err
	}

	var errs []error
	var modules []*il.Module
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mod, err := u.load()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		modules = append(modules, mod)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return planner.New(e.registry, e.resolver, e.logger).Plan(ctx, project, modules)
}
