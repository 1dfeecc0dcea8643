// Package config loads leapcloak project configuration. Values are layered
// from defaults, the leapcloak.yaml project file, LEAPCLOAK_ environment
// variables and command-line flags, highest last.
package config

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// Config holds all configuration options.
type Config struct {
	BaseDir      string            `koanf:"base_dir"`
	OutputDir    string            `koanf:"output_dir"`
	Seed         string            `koanf:"seed"`
	Workers      int               `koanf:"workers"`
	StatePath    string            `koanf:"state_path"`
	Verbose      bool              `koanf:"verbose"`
	OutputFormat string            `koanf:"output"`
	Modules      []core.ModuleSpec `koanf:"modules"`
	Rules        []core.Rule       `koanf:"rules"`

	// ProjectRoot anchors relative paths: the directory of the config file,
	// or the working directory when there is none.
	ProjectRoot string `koanf:"-"`
	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// Validate checks values the engine does not validate itself.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		return fmt.Errorf("output must be one of %v, got %q", OutputFormats, c.OutputFormat)
	}
	return nil
}

// Project converts the configuration into an engine project.
func (c *Config) Project() core.Project {
	return core.Project{
		BaseDirectory:   c.BaseDir,
		OutputDirectory: c.OutputDir,
		Seed:            c.Seed,
		Modules:         slices.Clone(c.Modules),
		Rules:           slices.Clone(c.Rules),
	}
}
