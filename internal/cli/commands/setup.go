package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcloak/internal/cli/output"
	"github.com/leapstack-labs/leapcloak/internal/config"
	"github.com/leapstack-labs/leapcloak/internal/engine"
	"github.com/leapstack-labs/leapcloak/internal/state"
	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Store    core.Store // nil when history is disabled
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with engine, history store and
// renderer. The cleanup function closes the store and must be called
// (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(cmdCtx.Cfg.StatePath, cmdCtx.Logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	eng, err := engine.New(engine.Config{
		Store:   storeOrNil(store),
		Workers: cmdCtx.Cfg.Workers,
		Logger:  cmdCtx.Logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	cmdCtx.Engine = eng
	cmdCtx.Store = storeOrNil(store)
	return cmdCtx, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
// Useful for commands that don't touch the project or its history.
func NewCommandContextWithoutEngine(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}, nil
}

// getConfig returns the configuration loaded by the root command, loading
// it from the working directory when the command runs on its own.
func getConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfg := config.GetConfig(cmd.Context()); cfg != nil {
		return cfg, nil
	}
	return config.Load("", nil)
}

// openStore opens the run history database. An empty path disables history.
func openStore(path string, logger *slog.Logger) (*state.SQLiteStore, error) {
	if path == "" {
		return nil, nil
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(path); err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}
	return store, nil
}

// storeOrNil keeps a nil *SQLiteStore from becoming a non-nil interface.
func storeOrNil(s *state.SQLiteStore) core.Store {
	if s == nil {
		return nil
	}
	return s
}
