package core

import (
	"slices"
	"strings"

	"github.com/Masterminds/semver"
)

// =============================================================================
// Framework kinds
// =============================================================================

// FrameworkKind is the runtime family a module targets.
type FrameworkKind int

// Framework kinds.
const (
	FrameworkUnknown FrameworkKind = iota
	FrameworkDotNetFramework
	FrameworkDotNet
	FrameworkDotNetStandard
	FrameworkUwp
)

var frameworkNames = [...]string{"unknown", "dotnet-framework", "dotnet", "dotnet-standard", "uwp"}

// String returns the string representation of the kind.
func (k FrameworkKind) String() string {
	if k < 0 || int(k) >= len(frameworkNames) {
		return "unknown"
	}
	return frameworkNames[k]
}

// ParseFrameworkKind converts a string to a FrameworkKind. Unrecognized
// values map to FrameworkUnknown.
func ParseFrameworkKind(s string) FrameworkKind {
	for i, name := range frameworkNames {
		if strings.EqualFold(name, s) {
			return FrameworkKind(i)
		}
	}
	return FrameworkUnknown
}

// FrameworkDescriptor is the declared target runtime of a module.
// Kind == FrameworkUnknown implies Version == nil.
type FrameworkDescriptor struct {
	Kind    FrameworkKind
	Version *semver.Version
}

// NewFrameworkDescriptor builds a descriptor, dropping the version of an
// unknown kind.
func NewFrameworkDescriptor(kind FrameworkKind, version *semver.Version) FrameworkDescriptor {
	if kind == FrameworkUnknown {
		version = nil
	}
	return FrameworkDescriptor{Kind: kind, Version: version}
}

// String renders the descriptor as "kind" or "kind@major.minor.patch".
func (d FrameworkDescriptor) String() string {
	if d.Version == nil {
		return d.Kind.String()
	}
	return d.Kind.String() + "@" + d.Version.String()
}

// =============================================================================
// Capabilities
// =============================================================================

// Capability is a named runtime feature a protection may depend on.
type Capability string

// Known capabilities.
const (
	CapDelegateTreeCodegen     Capability = "delegate-tree-codegen"
	CapUnmanagedCallTrampoline Capability = "unmanaged-call-trampoline"
)

// CapabilitySet is an immutable set of capabilities.
type CapabilitySet struct {
	caps []Capability
}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	c := slices.Clone(caps)
	slices.Sort(c)
	return CapabilitySet{caps: slices.Compact(c)}
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, found := slices.BinarySearch(s.caps, c)
	return found
}

// List returns the capabilities in sorted order.
func (s CapabilitySet) List() []Capability { return slices.Clone(s.caps) }

// Len returns the number of capabilities.
func (s CapabilitySet) Len() int { return len(s.caps) }

// InstalledRuntime is a runtime found on the executing host.
type InstalledRuntime struct {
	Kind    FrameworkKind
	Name    string
	Version string
	// Profile is "Full" or "Client" for registry-discovered frameworks.
	Profile string
	// ServicePack is the service pack level, or -1 when unknown.
	ServicePack int
	Source      string
}
