package core

import (
	"errors"
	"testing"

	"github.com/Masterminds/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{
		{Name: "mode", Kind: ParamEnum, Domain: []string{"Mild", "Strong"}, Default: "Mild"},
		{Name: "internal", Kind: ParamBool, Default: "false"},
		{Name: "depth", Kind: ParamInt, Min: 1, Max: 8, Default: "3"},
	}
}

func TestSchema_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		want    map[string]any
		wantErr string
	}{
		{
			name: "canonicalizes enum and name case",
			raw:  map[string]string{"MODE": "strong", "internal": "TRUE"},
			want: map[string]any{"mode": "Strong", "internal": true},
		},
		{
			name: "int in range",
			raw:  map[string]string{"depth": " 8"},
			want: map[string]any{"depth": 8},
		},
		{
			name:    "unknown parameter",
			raw:     map[string]string{"speed": "fast"},
			wantErr: `unknown parameter "speed"`,
		},
		{
			name:    "out of domain enum",
			raw:     map[string]string{"mode": "Medium"},
			wantErr: `"Medium" is not one of Mild, Strong`,
		},
		{
			name:    "non boolean",
			raw:     map[string]string{"internal": "yes"},
			wantErr: "is not a boolean",
		},
		{
			name:    "int out of range",
			raw:     map[string]string{"depth": "9"},
			wantErr: "outside [1, 8]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := testSchema().Resolve(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchema_ResolveReportsEveryProblem(t *testing.T) {
	_, err := testSchema().Resolve(map[string]string{"mode": "x", "depth": "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
	assert.Contains(t, err.Error(), "depth")
}

func TestSchema_Defaults(t *testing.T) {
	assert.Equal(t, map[string]any{"mode": "Mild", "internal": false, "depth": 3}, testSchema().Defaults())
}

func TestSchema_Check(t *testing.T) {
	require.NoError(t, testSchema().Check())

	bad := Schema{
		{Name: "a", Kind: ParamEnum},
		{Name: "b", Kind: ParamBool, Default: "maybe"},
		{Name: "B", Kind: ParamBool, Default: "true"},
	}
	err := bad.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enum without domain")
	assert.Contains(t, err.Error(), "not a boolean")
	assert.Contains(t, err.Error(), "declared twice")
}

func TestCapabilitySet(t *testing.T) {
	set := NewCapabilitySet(CapUnmanagedCallTrampoline, CapDelegateTreeCodegen, CapUnmanagedCallTrampoline)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has(CapUnmanagedCallTrampoline))
	assert.True(t, set.Has(CapDelegateTreeCodegen))
	assert.Equal(t, []Capability{CapDelegateTreeCodegen, CapUnmanagedCallTrampoline}, set.List())

	assert.False(t, CapabilitySet{}.Has(CapDelegateTreeCodegen))
}

func TestFrameworkDescriptor(t *testing.T) {
	v, err := semver.NewVersion("4.7.1")
	require.NoError(t, err)

	d := NewFrameworkDescriptor(FrameworkDotNetFramework, v)
	assert.Equal(t, "dotnet-framework@4.7.1", d.String())

	unknown := NewFrameworkDescriptor(FrameworkUnknown, v)
	assert.Nil(t, unknown.Version)
	assert.Equal(t, "unknown", unknown.String())

	assert.Equal(t, FrameworkUwp, ParseFrameworkKind("UWP"))
	assert.Equal(t, FrameworkUnknown, ParseFrameworkKind("java"))
}

func TestConfigurationError(t *testing.T) {
	assert.NoError(t, NewConfigurationError(nil, nil))

	cause := errors.New("unknown protection id \"nope\"")
	err := NewConfigurationError(cause)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.ErrorIs(t, err, cause)

	wrapped := Configf("rule %d: %w", 2, cause)
	assert.True(t, IsConfigurationError(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}

func TestRunResult_Err(t *testing.T) {
	writeErr := errors.New("disk full")
	res := &RunResult{Modules: []ModuleOutcome{
		{Module: "a", Status: ModuleSucceeded},
		{Module: "b", Status: ModuleFailed, Err: &OutputFailure{Module: "b", Path: "out/b", Err: writeErr}},
		{Module: "c", Status: ModuleCancelled},
	}}

	assert.Len(t, res.Succeeded(), 1)
	assert.Len(t, res.Failed(), 1)
	assert.Len(t, res.Cancelled(), 1)

	err := res.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, writeErr)
	var of *OutputFailure
	require.ErrorAs(t, err, &of)
	assert.Equal(t, "out/b", of.Path)

	assert.NoError(t, (&RunResult{}).Err())
}

func TestModuleReport(t *testing.T) {
	var r ModuleReport
	r.Count("ref proxy.rewritten", 2)
	r.Count("ref proxy.rewritten", 1)
	r.Diagnose(SiteDiagnostic{Method: "App.Program::Main", Index: 4, Outcome: SiteSkipped, Reason: "vararg"})

	assert.Equal(t, 3, r.Stats["ref proxy.rewritten"])
	require.Len(t, r.Diagnostics, 1)
	assert.Equal(t, "App.Program::Main[4] -> : skipped: vararg", r.Diagnostics[0].String())
}

func TestModuleOutcome_Rewritten(t *testing.T) {
	m := ModuleOutcome{Stats: map[string]int{
		"ref proxy.rewritten": 3,
		"ref proxy.proxies":   2,
		"rename.renamed":      7,
		"other.rewritten":     1,
	}}
	assert.Equal(t, 4, m.Rewritten())
	assert.Zero(t, ModuleOutcome{}.Rewritten())
}
