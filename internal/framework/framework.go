// Package framework resolves the runtime a module targets, the capabilities
// that runtime implies, and the runtimes installed on the executing host.
package framework

import (
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/Masterminds/semver"

	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// TargetFrameworkAttribute is the assembly attribute carrying the moniker.
const TargetFrameworkAttribute = "System.Runtime.Versioning.TargetFrameworkAttribute"

var monikerKinds = map[string]core.FrameworkKind{
	".NETFramework": core.FrameworkDotNetFramework,
	".NETCoreApp":   core.FrameworkDotNet,
	".NETStandard":  core.FrameworkDotNetStandard,
	".NETCore":      core.FrameworkUwp,
}

// IdentifyFramework reads the target framework moniker of mod's assembly,
// "<name>[,Version=v<major.minor[.build]>]". A missing assembly, attribute or
// unrecognized name yields (FrameworkUnknown, nil). A recognized name with an
// unparsable version yields the kind and a nil version.
func IdentifyFramework(mod *il.Module) (core.FrameworkKind, *semver.Version) {
	if mod == nil {
		return core.FrameworkUnknown, nil
	}
	attr, ok := mod.Assembly.FindAttribute(TargetFrameworkAttribute)
	if !ok || len(attr.Args) == 0 {
		return core.FrameworkUnknown, nil
	}
	name, version := ParseMoniker(attr.Args[0])
	kind, ok := monikerKinds[name]
	if !ok {
		return core.FrameworkUnknown, nil
	}
	return kind, version
}

// ParseMoniker splits a moniker into its name and optional version.
func ParseMoniker(moniker string) (string, *semver.Version) {
	parts := strings.Split(moniker, ",")
	name := strings.TrimSpace(parts[0])
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "Version") {
			continue
		}
		value = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "v"), "V")
		v, err := semver.NewVersion(value)
		if err != nil {
			return name, nil
		}
		return name, v
	}
	return name, nil
}

// =============================================================================
// Capabilities
// =============================================================================

type capabilityRule struct {
	kind core.FrameworkKind
	// constraint is nil when the rule holds for every version, including an
	// unknown one. A constrained rule never matches a nil version.
	constraint *semver.Constraints
	caps       []core.Capability
}

var capabilityTable = []capabilityRule{
	{kind: core.FrameworkDotNetFramework, caps: []core.Capability{core.CapUnmanagedCallTrampoline}},
	{kind: core.FrameworkDotNetFramework, constraint: mustConstraint(">= 3.5"), caps: []core.Capability{core.CapDelegateTreeCodegen}},
	{kind: core.FrameworkDotNet, caps: []core.Capability{core.CapDelegateTreeCodegen}},
	{kind: core.FrameworkDotNetStandard, constraint: mustConstraint(">= 1.0"), caps: []core.Capability{core.CapDelegateTreeCodegen}},
	{kind: core.FrameworkUwp, caps: []core.Capability{core.CapDelegateTreeCodegen}},
}

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

func capabilitiesFor(desc core.FrameworkDescriptor) core.CapabilitySet {
	var caps []core.Capability
	for _, rule := range capabilityTable {
		if rule.kind != desc.Kind {
			continue
		}
		if rule.constraint != nil && (desc.Version == nil || !rule.constraint.Check(desc.Version)) {
			continue
		}
		caps = append(caps, rule.caps...)
	}
	return core.NewCapabilitySet(caps...)
}

// =============================================================================
// Resolver
// =============================================================================

// DiscoverFunc produces the runtimes installed on the host. The sequence is
// finite and may only be consumed once.
type DiscoverFunc func() iter.Seq[core.InstalledRuntime]

// Resolver answers framework questions. It is safe for concurrent use:
// capability sets are cached per descriptor and host discovery runs at most
// once.
type Resolver struct {
	discover DiscoverFunc

	once     sync.Once
	runtimes []core.InstalledRuntime

	caps sync.Map // descriptor string -> core.CapabilitySet
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDiscoverer replaces host discovery.
func WithDiscoverer(fn DiscoverFunc) Option {
	return func(r *Resolver) { r.discover = fn }
}

// NewResolver creates a resolver using platform host discovery.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{discover: DiscoverHost}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Describe returns the framework descriptor of mod.
func (r *Resolver) Describe(mod *il.Module) core.FrameworkDescriptor {
	return core.NewFrameworkDescriptor(IdentifyFramework(mod))
}

// CapabilitiesFor returns the capability set a descriptor implies. It is
// total: unknown descriptors map to the empty set.
func (r *Resolver) CapabilitiesFor(desc core.FrameworkDescriptor) core.CapabilitySet {
	key := desc.String()
	if v, ok := r.caps.Load(key); ok {
		return v.(core.CapabilitySet)
	}
	v, _ := r.caps.LoadOrStore(key, capabilitiesFor(desc))
	return v.(core.CapabilitySet)
}

// HostRuntimes returns the runtimes installed on the host. Discovery runs on
// the first call; later calls return the same materialized list. An empty
// list means discovery found nothing or is not available on this host.
func (r *Resolver) HostRuntimes() []core.InstalledRuntime {
	r.once.Do(func() {
		if r.discover == nil {
			return
		}
		r.runtimes = slices.Collect(r.discover())
	})
	return slices.Clone(r.runtimes)
}
