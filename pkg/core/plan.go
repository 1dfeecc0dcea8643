package core

import "github.com/leapstack-labs/leapcloak/pkg/il"

// Plan is the ordered protection plan for a whole project.
type Plan struct {
	// Order is the registry's total order of protection ids.
	Order   []string
	Modules []*ModulePlan
	// Warnings are advisory notes from protections, one line each.
	Warnings []string
}

// ModulePlan lists the stages to run on one module, in order.
type ModulePlan struct {
	Module       *il.Module
	Framework    FrameworkDescriptor
	Capabilities CapabilitySet
	Stages       []*Stage
}

// Stage applies one protection to its targets.
type Stage struct {
	Protection Protection
	Targets    []Target
}

// ID returns the protection id of the stage.
func (s *Stage) ID() string { return s.Protection.Descriptor().ID }

// ForModule returns the plan of the module loaded from path, or nil.
func (p *Plan) ForModule(path string) *ModulePlan {
	for _, mp := range p.Modules {
		if mp.Module.Path == path {
			return mp
		}
	}
	return nil
}
