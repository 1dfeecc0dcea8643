package core

import "log/slog"

// Project is the user's protection job.
type Project struct {
	// BaseDirectory anchors relative module paths and output layout.
	BaseDirectory   string
	OutputDirectory string
	Seed            string
	Modules         []ModuleSpec
	Rules           []Rule
}

// ModuleSpec names one input module.
type ModuleSpec struct {
	Path string `koanf:"path"`
}

// Rule selects members and lists the protections to apply to them.
type Rule struct {
	// Selector is a Starlark expression; empty selects every member.
	Selector string    `koanf:"selector"`
	Settings []Setting `koanf:"settings"`
}

// Setting is one (protection id, raw parameters) entry of a rule.
type Setting struct {
	ProtectionID string            `koanf:"id"`
	Params       map[string]string `koanf:"params"`
}

// RunParams bundles the project and an optional logger for one engine run.
type RunParams struct {
	Project Project
	Logger  *slog.Logger
}
