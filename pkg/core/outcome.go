package core

import (
	"errors"
	"strings"
	"time"
)

// ModuleStatus is the final state of one module in a run.
type ModuleStatus string

// Module statuses.
const (
	ModuleSucceeded ModuleStatus = "succeeded"
	ModuleFailed    ModuleStatus = "failed"
	ModuleCancelled ModuleStatus = "cancelled"
)

// ModuleOutcome reports what happened to one input module.
type ModuleOutcome struct {
	Module     string
	InputPath  string
	OutputPath string
	Framework  FrameworkDescriptor
	Status     ModuleStatus
	// Err is a *ModuleFailure or *OutputFailure for failed modules and the
	// context error for cancelled ones.
	Err         error
	Diagnostics []SiteDiagnostic
	Stats       map[string]int
	Duration    time.Duration
}

// Rewritten sums the "<protection>.rewritten" counters.
func (m ModuleOutcome) Rewritten() int {
	n := 0
	for k, v := range m.Stats {
		if strings.HasSuffix(k, ".rewritten") {
			n += v
		}
	}
	return n
}

// RunResult is the completion report of an engine run.
type RunResult struct {
	RunID   string
	Status  RunStatus
	Modules []ModuleOutcome
}

// Succeeded returns the modules that were written.
func (r *RunResult) Succeeded() []ModuleOutcome {
	return r.filter(ModuleSucceeded)
}

// Failed returns the modules that failed or could not be written.
func (r *RunResult) Failed() []ModuleOutcome {
	return r.filter(ModuleFailed)
}

// Cancelled returns the modules discarded because the run was cancelled.
func (r *RunResult) Cancelled() []ModuleOutcome {
	return r.filter(ModuleCancelled)
}

func (r *RunResult) filter(status ModuleStatus) []ModuleOutcome {
	var out []ModuleOutcome
	for _, m := range r.Modules {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

// Diagnostics returns every site diagnostic of the run in module order.
func (r *RunResult) Diagnostics() []SiteDiagnostic {
	var out []SiteDiagnostic
	for _, m := range r.Modules {
		out = append(out, m.Diagnostics...)
	}
	return out
}

// Err joins the failures of every failed module, or returns nil.
func (r *RunResult) Err() error {
	var errs []error
	for _, m := range r.Modules {
		if m.Status == ModuleFailed && m.Err != nil {
			errs = append(errs, m.Err)
		}
	}
	return errors.Join(errs...)
}
