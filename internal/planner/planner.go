// Package planner resolves project rules against modules and the protection
// registry into an ordered protection plan. Planning validates the whole
// configuration up front and never mutates a module.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/leapcloak/internal/framework"
	"github.com/leapstack-labs/leapcloak/internal/registry"
	"github.com/leapstack-labs/leapcloak/internal/selector"
	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// Planner builds protection plans.
type Planner struct {
	registry *registry.Registry
	resolver *framework.Resolver
	logger   *slog.Logger
}

// New creates a planner. A nil logger discards output.
func New(reg *registry.Registry, resolver *framework.Resolver, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if resolver == nil {
		resolver = framework.NewResolver()
	}
	return &Planner{registry: reg, resolver: resolver, logger: logger}
}

// setting is a rule setting that passed schema validation.
type setting struct {
	protection core.Protection
	params     map[string]any
}

// stageAcc accumulates the targets of one (module, protection) pair.
type stageAcc struct {
	members []il.Member
	params  map[il.Member]map[string]any
}

// Plan resolves every rule of project against modules. All configuration
// problems found in one pass are returned together as a
// *core.ConfigurationError.
func (p *Planner) Plan(ctx context.Context, project core.Project, modules []*il.Module) (*core.Plan, error) {
	var errs []error

	order, err := p.registry.Order()
	if err != nil {
		errs = append(errs, err)
	}

	frameworks := make(map[*il.Module]core.FrameworkDescriptor, len(modules))
	for _, mod := range modules {
		frameworks[mod] = p.resolver.Describe(mod)
	}

	acc := make(map[*il.Module]map[string]*stageAcc, len(modules))
	for i, rule := range project.Rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ruleName := fmt.Sprintf("rules[%d]", i)

		settings, settingErrs := p.validateSettings(ruleName, rule)
		errs = append(errs, settingErrs...)

		sel, err := selector.Compile(ruleName, rule.Selector)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ruleName, err))
			continue
		}

		matched, err := p.apply(sel, settings, modules, frameworks, acc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ruleName, err))
			continue
		}
		if matched == 0 {
			errs = append(errs, fmt.Errorf("%s: selector %q matches no member", ruleName, rule.Selector))
		}
		p.logger.Debug("rule resolved", slog.String("rule", ruleName), slog.Int("members", matched))
	}
	if len(errs) > 0 {
		return nil, core.NewConfigurationError(errs...)
	}

	plan := &core.Plan{Order: order}
	warnings := make(map[string]bool)
	for _, mod := range modules {
		mp, stageErrs := p.buildModulePlan(mod, frameworks[mod], order, acc[mod], warnings)
		errs = append(errs, stageErrs...)
		plan.Modules = append(plan.Modules, mp)
	}
	if len(errs) > 0 {
		return nil, core.NewConfigurationError(errs...)
	}
	plan.Warnings = slices.Sorted(maps.Keys(warnings))
	return plan, nil
}

func (p *Planner) validateSettings(ruleName string, rule core.Rule) ([]setting, []error) {
	var (
		out  []setting
		errs []error
	)
	for j, s := range rule.Settings {
		where := fmt.Sprintf("%s.settings[%d]", ruleName, j)
		prot, ok := p.registry.Get(s.ProtectionID)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: unknown protection id %q", where, s.ProtectionID))
			continue
		}
		params, err := prot.Descriptor().Schema.Resolve(s.Params)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s (%s): %w", where, s.ProtectionID, err))
			continue
		}
		out = append(out, setting{protection: prot, params: params})
	}
	return out, errs
}

// apply evaluates sel against every member and records settings for the
// members each protection accepts. It returns the number of matched members.
func (p *Planner) apply(
	sel *selector.Selector,
	settings []setting,
	modules []*il.Module,
	frameworks map[*il.Module]core.FrameworkDescriptor,
	acc map[*il.Module]map[string]*stageAcc,
) (int, error) {
	matched := 0
	for _, mod := range modules {
		for _, member := range mod.Members() {
			ok, err := sel.Match(mod, frameworks[mod], member)
			if err != nil {
				return matched, err
			}
			if !ok {
				continue
			}
			matched++
			for _, s := range settings {
				if !s.protection.Accepts(member) {
					continue
				}
				stage := stageFor(acc, mod, s.protection.Descriptor().ID)
				existing, seen := stage.params[member]
				if !seen {
					existing = make(map[string]any, len(s.params))
					stage.members = append(stage.members, member)
					stage.params[member] = existing
				}
				// Later rules override earlier ones parameter by parameter.
				maps.Copy(existing, s.params)
			}
		}
	}
	return matched, nil
}

func stageFor(acc map[*il.Module]map[string]*stageAcc, mod *il.Module, id string) *stageAcc {
	byID, ok := acc[mod]
	if !ok {
		byID = make(map[string]*stageAcc)
		acc[mod] = byID
	}
	stage, ok := byID[id]
	if !ok {
		stage = &stageAcc{params: make(map[il.Member]map[string]any)}
		byID[id] = stage
	}
	return stage
}

func (p *Planner) buildModulePlan(
	mod *il.Module,
	fw core.FrameworkDescriptor,
	order []string,
	stages map[string]*stageAcc,
	warnings map[string]bool,
) (*core.ModulePlan, []error) {
	mp := &core.ModulePlan{
		Module:       mod,
		Framework:    fw,
		Capabilities: p.resolver.CapabilitiesFor(fw),
	}
	position := make(map[il.Member]int)
	for i, m := range mod.Members() {
		position[m] = i
	}

	var errs []error
	for _, id := range order {
		acc, ok := stages[id]
		if !ok {
			continue
		}
		prot, _ := p.registry.Get(id)
		defaults := prot.Descriptor().Schema.Defaults()

		members := slices.Clone(acc.members)
		slices.SortStableFunc(members, func(a, b il.Member) int { return position[a] - position[b] })

		stage := &core.Stage{Protection: prot}
		for _, member := range members {
			params := maps.Clone(defaults)
			maps.Copy(params, acc.params[member])

			settings, err := decodeSettings(prot, params)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %s: %w", id, member.FullName(), err))
				continue
			}
			if advisor, ok := prot.(core.Advisor); ok {
				for _, w := range advisor.Advise(settings, mod, fw, mp.Capabilities) {
					warnings[fmt.Sprintf("%s: %s: %s", mod.Name, id, w)] = true
				}
			}
			stage.Targets = append(stage.Targets, core.Target{Member: member, Params: params, Settings: settings})
		}
		mp.Stages = append(mp.Stages, stage)
	}
	return mp, errs
}

// decodeSettings decodes validated params into the protection's typed
// settings exactly once.
func decodeSettings(prot core.Protection, params map[string]any) (any, error) {
	settings := prot.NewSettings()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      settings,
		ErrorUnused: true,
		MatchName:   func(key, field string) bool { return key == field },
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(params); err != nil {
		return nil, err
	}
	if v, ok := settings.(core.SettingsValidator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return settings, nil
}
