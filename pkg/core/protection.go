package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// ProtectionDescriptor identifies a protection kind and declares its
// parameters and ordering constraints.
type ProtectionDescriptor struct {
	ID          string
	Name        string
	Description string
	Schema      Schema
	// Before lists protection ids that must run after this one.
	Before []string
	// After lists protection ids that must run before this one.
	After []string
}

// Protection is a module transform that can be planned against members.
//
// Implementations are registered once at startup and must be safe for
// concurrent use: per-module state lives in the StageContext, never on the
// Protection value.
type Protection interface {
	Descriptor() ProtectionDescriptor

	// Accepts reports whether member is something this protection can act on.
	// Members a rule selects but the protection does not accept are left out
	// of the plan.
	Accepts(member il.Member) bool

	// NewSettings returns a pointer to a zero settings value that validated
	// parameters are decoded into.
	NewSettings() any

	// Apply rewrites sc.Module for the planned targets.
	Apply(ctx context.Context, sc *StageContext) error
}

// SettingsValidator is implemented by settings values with constraints a
// schema cannot express. The planner calls Validate after decoding.
type SettingsValidator interface {
	Validate() error
}

// Advisor is implemented by protections that can tell at planning time that
// a module's capabilities will not honor some settings. Advice is reported
// as plan warnings, never as errors.
type Advisor interface {
	Advise(settings any, mod *il.Module, fw FrameworkDescriptor, caps CapabilitySet) []string
}

// Target is one planned member with its decoded settings.
type Target struct {
	Member il.Member
	// Params are the validated values after defaults and rule overrides.
	Params map[string]any
	// Settings is the value returned by NewSettings with Params decoded in.
	Settings any
}

// StageContext is everything a protection sees while rewriting one module.
type StageContext struct {
	Module       *il.Module
	Framework    FrameworkDescriptor
	Capabilities CapabilitySet
	Targets      []Target
	// Seed is derived from the project seed and the module name.
	Seed   uint64
	Logger *slog.Logger
	Report *ModuleReport
}

// ModuleReport collects per-module diagnostics and counters across stages.
type ModuleReport struct {
	Diagnostics []SiteDiagnostic
	Stats       map[string]int
}

// Diagnose records a site diagnostic.
func (r *ModuleReport) Diagnose(d SiteDiagnostic) {
	r.Diagnostics = append(r.Diagnostics, d)
}

// Count adds n to a named counter.
func (r *ModuleReport) Count(key string, n int) {
	if r.Stats == nil {
		r.Stats = make(map[string]int)
	}
	r.Stats[key] += n
}

// =============================================================================
// Site diagnostics
// =============================================================================

// SiteOutcome is what happened to a call site that was not rewritten as requested.
type SiteOutcome string

// Site outcomes.
const (
	SiteFellBack SiteOutcome = "fell-back"
	SiteSkipped  SiteOutcome = "skipped"
	SiteFailed   SiteOutcome = "failed"
)

// SiteDiagnostic describes a call site that could not be rewritten under the
// requested configuration. It is a record, never an error return.
type SiteDiagnostic struct {
	Protection string
	Method     string
	Index      int
	Target     string
	Requested  string
	Used       string
	Outcome    SiteOutcome
	Reason     string
}

func (d SiteDiagnostic) String() string {
	s := fmt.Sprintf("%s[%d] -> %s: %s", d.Method, d.Index, d.Target, d.Outcome)
	if d.Used != "" && d.Used != d.Requested {
		s += fmt.Sprintf(" (%s -> %s)", d.Requested, d.Used)
	}
	if d.Reason != "" {
		s += ": " + d.Reason
	}
	return s
}
