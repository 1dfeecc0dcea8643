package framework

import (
	"iter"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Masterminds/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

func moduleWithMoniker(moniker string) *il.Module {
	mod := il.NewModule("M")
	mod.Assembly = &il.Assembly{Name: "M"}
	if moniker != "" {
		mod.Assembly.Attributes = []il.CustomAttribute{{Type: TargetFrameworkAttribute, Args: []string{moniker}}}
	}
	return mod
}

func TestIdentifyFramework(t *testing.T) {
	tests := []struct {
		name    string
		moniker string
		kind    core.FrameworkKind
		version string
	}{
		{"framework", ".NETFramework,Version=v4.7.1", core.FrameworkDotNetFramework, "4.7.1"},
		{"core app", ".NETCoreApp,Version=v8.0", core.FrameworkDotNet, "8.0.0"},
		{"standard", ".NETStandard,Version=v2.0", core.FrameworkDotNetStandard, "2.0.0"},
		{"uwp", ".NETCore,Version=v5.0", core.FrameworkUwp, "5.0.0"},
		{"profile suffix", ".NETFramework,Version=v4.0,Profile=Client", core.FrameworkDotNetFramework, "4.0.0"},
		{"no version", ".NETStandard", core.FrameworkDotNetStandard, ""},
		{"bad version", ".NETFramework,Version=vNext", core.FrameworkDotNetFramework, ""},
		{"unrecognized", "Silverlight,Version=v5.0", core.FrameworkUnknown, ""},
		{"missing attribute", "", core.FrameworkUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, version := IdentifyFramework(moduleWithMoniker(tt.moniker))
			assert.Equal(t, tt.kind, kind)
			if tt.version == "" {
				assert.Nil(t, version)
				return
			}
			require.NotNil(t, version)
			assert.Equal(t, tt.version, version.String())
		})
	}
}

func TestIdentifyFramework_NoAssembly(t *testing.T) {
	kind, version := IdentifyFramework(il.NewModule("netmodule"))
	assert.Equal(t, core.FrameworkUnknown, kind)
	assert.Nil(t, version)

	kind, version = IdentifyFramework(nil)
	assert.Equal(t, core.FrameworkUnknown, kind)
	assert.Nil(t, version)
}

func TestCapabilitiesFor(t *testing.T) {
	v := func(s string) *semver.Version {
		ver, err := semver.NewVersion(s)
		require.NoError(t, err)
		return ver
	}
	tests := []struct {
		name string
		desc core.FrameworkDescriptor
		want []core.Capability
	}{
		{"unknown", core.FrameworkDescriptor{}, nil},
		{"framework 2.0", core.NewFrameworkDescriptor(core.FrameworkDotNetFramework, v("2.0")),
			[]core.Capability{core.CapUnmanagedCallTrampoline}},
		{"framework 3.5", core.NewFrameworkDescriptor(core.FrameworkDotNetFramework, v("3.5")),
			[]core.Capability{core.CapDelegateTreeCodegen, core.CapUnmanagedCallTrampoline}},
		{"framework without version", core.NewFrameworkDescriptor(core.FrameworkDotNetFramework, nil),
			[]core.Capability{core.CapUnmanagedCallTrampoline}},
		{"dotnet", core.NewFrameworkDescriptor(core.FrameworkDotNet, v("8.0")),
			[]core.Capability{core.CapDelegateTreeCodegen}},
		{"standard without version", core.NewFrameworkDescriptor(core.FrameworkDotNetStandard, nil), nil},
		{"uwp", core.NewFrameworkDescriptor(core.FrameworkUwp, nil),
			[]core.Capability{core.CapDelegateTreeCodegen}},
	}
	r := NewResolver(WithDiscoverer(nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.CapabilitiesFor(tt.desc)
			assert.Equal(t, len(tt.want), got.Len())
			for _, c := range tt.want {
				assert.True(t, got.Has(c), "missing %s", c)
			}
			// Cached answers are identical.
			assert.Equal(t, got, r.CapabilitiesFor(tt.desc))
		})
	}
}

func TestHostRuntimes_EmptyWhenUnavailable(t *testing.T) {
	r := NewResolver(WithDiscoverer(func() iter.Seq[core.InstalledRuntime] {
		return ScanDotnetRoots(filepath.Join(t.TempDir(), "missing"))
	}))
	assert.Empty(t, r.HostRuntimes())
	assert.Empty(t, r.HostRuntimes())
}

func TestHostRuntimes_Memoized(t *testing.T) {
	var calls atomic.Int32
	r := NewResolver(WithDiscoverer(func() iter.Seq[core.InstalledRuntime] {
		calls.Add(1)
		return func(yield func(core.InstalledRuntime) bool) {
			for _, v := range []string{"4.0", "4.8"} {
				if !yield(core.InstalledRuntime{Kind: core.FrameworkDotNetFramework, Version: v}) {
					return
				}
			}
		}
	}))

	var wg sync.WaitGroup
	results := make([][]core.InstalledRuntime, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.HostRuntimes()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, got := range results {
		require.Len(t, got, 2)
		assert.Equal(t, results[0], got)
	}

	// Callers get their own copy.
	first := r.HostRuntimes()
	first[0].Version = "mutated"
	assert.Equal(t, "4.0", r.HostRuntimes()[0].Version)
}

func TestScanDotnetRoots(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{
		"shared/Microsoft.NETCore.App/6.0.25",
		"shared/Microsoft.NETCore.App/8.0.1",
		"shared/Microsoft.AspNetCore.App/8.0.1",
		"shared/Microsoft.NETCore.App/not-a-version",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}

	var got []string
	for rt := range ScanDotnetRoots(root, root, filepath.Join(root, "missing")) {
		assert.Equal(t, core.FrameworkDotNet, rt.Kind)
		got = append(got, rt.Name+"/"+rt.Version)
	}
	assert.Equal(t, []string{
		"Microsoft.AspNetCore.App/8.0.1",
		"Microsoft.NETCore.App/6.0.25",
		"Microsoft.NETCore.App/8.0.1",
	}, got)
}

func TestScanMonoRoots(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"4.5", "4.7.1-api", "gac"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	var got []string
	for rt := range ScanMonoRoots(root) {
		assert.Equal(t, core.FrameworkDotNetFramework, rt.Kind)
		got = append(got, rt.Version)
	}
	assert.Equal(t, []string{"4.5", "4.7.1-api"}, got)
}

func TestScanDotnetRoots_StopsEarly(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"shared/A/1.0", "shared/A/2.0", "shared/B/1.0"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	n := 0
	for range ScanDotnetRoots(root) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}
