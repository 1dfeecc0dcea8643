package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcloak/internal/config"
	"github.com/leapstack-labs/leapcloak/internal/engine"
)

// runWatch protects the project, then repeats the run after every change to
// the configuration file or an input module until the context is cancelled.
func runWatch(cmd *cobra.Command, opts *ProtectOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	r := cmdCtx.Renderer

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	targets, err := watchTargets(watcher, cmdCtx.Cfg)
	if err != nil {
		return err
	}

	rerun := func() {
		if _, err := protectOnce(ctx, cmdCtx); err != nil && ctx.Err() == nil {
			r.Error(err.Error())
		}
		r.Muted(fmt.Sprintf("Watching %d files for changes. Press Ctrl+C to stop.", len(targets)))
	}
	rerun()

	var timer *time.Timer
	var fire <-chan time.Time
	var changed string
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if _, watched := targets[filepath.Clean(event.Name)]; !watched {
				continue
			}
			changed = event.Name
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
			} else {
				timer.Reset(opts.Debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			r.Println("")
			r.Muted("Change detected: " + filepath.Base(changed))
			if cmdCtx.Cfg.File != "" && filepath.Clean(changed) == cmdCtx.Cfg.File {
				if err := reloadConfig(cmd, cmdCtx); err != nil {
					r.Error(err.Error())
					continue
				}
				if targets, err = watchTargets(watcher, cmdCtx.Cfg); err != nil {
					return err
				}
			}
			rerun()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cmdCtx.Logger.Warn("watcher error", "error", err)
		}
	}
}

// watchTargets adds the directories of the config file and every input
// module to the watcher and returns the set of files to react to.
func watchTargets(watcher *fsnotify.Watcher, cfg *config.Config) (map[string]struct{}, error) {
	files := make(map[string]struct{}, len(cfg.Modules)+1)
	if cfg.File != "" {
		files[filepath.Clean(cfg.File)] = struct{}{}
	}
	for _, m := range cfg.Modules {
		path := m.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.BaseDir, path)
		}
		files[filepath.Clean(path)] = struct{}{}
	}

	dirs := make(map[string]struct{})
	for f := range files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	watched := make(map[string]struct{}, len(watcher.WatchList()))
	for _, d := range watcher.WatchList() {
		watched[d] = struct{}{}
	}
	for d := range dirs {
		if _, ok := watched[d]; ok {
			continue
		}
		if err := watcher.Add(d); err != nil {
			return nil, fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}
	return files, nil
}

// reloadConfig re-reads the configuration file and rebuilds the engine. The
// previous configuration stays in effect when the new one is invalid.
func reloadConfig(cmd *cobra.Command, cmdCtx *CommandContext) error {
	cfg, err := config.Load(cmdCtx.Cfg.File, cmd.Root().PersistentFlags())
	if err != nil {
		return fmt.Errorf("configuration not reloaded: %w", err)
	}
	eng, err := engine.New(engine.Config{
		Store:   cmdCtx.Store,
		Workers: cfg.Workers,
		Logger:  cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	cmdCtx.Cfg = cfg
	cmdCtx.Engine = eng
	return nil
}
