package rename

import (
	"context"
	"regexp"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcloak/internal/protections/refproxy"
	"github.com/leapstack-labs/leapcloak/internal/testutil"
	"github.com/leapstack-labs/leapcloak/internal/vm"
	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

func stage(t *testing.T, p core.Protection, mod *il.Module, settings func() any) *core.StageContext {
	t.Helper()
	var targets []core.Target
	for _, m := range mod.Members() {
		if p.Accepts(m) {
			targets = append(targets, core.Target{Member: m, Settings: settings()})
		}
	}
	return &core.StageContext{
		Module:       mod,
		Capabilities: core.NewCapabilitySet(core.CapDelegateTreeCodegen, core.CapUnmanagedCallTrampoline),
		Targets:      targets,
		Seed:         42,
		Logger:       testutil.NewTestLogger(t),
		Report:       &core.ModuleReport{},
	}
}

func TestAccepts(t *testing.T) {
	mod := testutil.SampleModule(testutil.SampleOptions{})
	prog := mod.FindType("App.Program")
	greeter := mod.FindType("App.Greeter")
	p := New()

	tests := []struct {
		member il.Member
		want   bool
	}{
		{member: mod.GlobalType(), want: false},
		{member: greeter, want: false},
		{member: greeter.FindMethod(".ctor"), want: false},
		{member: greeter.FindMethod("Emit"), want: false},
		{member: prog.FindMethod("Describe"), want: true},
		{member: prog.FindMethod("Fail"), want: true},
		{member: prog.FindField("lastThrown"), want: true},
		{member: &il.TypeDef{Name: "Hidden", Visibility: il.Internal}, want: true},
		{member: &il.MethodDef{Name: "Invoke", Impl: il.ImplRuntime, Visibility: il.Private}, want: false},
		{member: &il.MethodDef{Name: "OnEvent", Virtual: true, Visibility: il.Family}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.member.FullName(), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Accepts(tt.member))
		})
	}
}

func TestApply_RenamesAndPreservesBehavior(t *testing.T) {
	for _, mode := range []Mode{Letters, Unicode, Hex} {
		t.Run(string(mode), func(t *testing.T) {
			mod := testutil.SampleModule(testutil.SampleOptions{})
			prog := mod.FindType("App.Program")
			describe := prog.FindMethod("Describe")
			field := prog.FindField("lastThrown")

			sc := stage(t, New(), mod, func() any { return &Settings{Mode: mode} })
			require.NoError(t, New().Apply(context.Background(), sc))

			assert.NotEqual(t, "Describe", describe.Name)
			assert.NotEqual(t, "lastThrown", field.Name)
			assert.Equal(t, "Main", mod.EntryPoint.Name)
			assert.Equal(t, "App.Greeter", mod.FindType("App.Greeter").FullName())
			assert.Equal(t, 3, sc.Report.Stats[ID+".renamed"])

			switch mode {
			case Hex:
				assert.Regexp(t, regexp.MustCompile(`^_[0-9a-f]{8}$`), describe.Name)
			case Letters:
				assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z]{8}$`), describe.Name)
			case Unicode:
				assert.Equal(t, 6, utf8.RuneCountInString(describe.Name))
			}

			res, err := vm.Run(context.Background(), mod)
			require.NoError(t, err)
			assert.Equal(t, testutil.SampleOutput, res.Output)
		})
	}
}

func TestApply_RetargetsRenamedTypes(t *testing.T) {
	mod := testutil.SampleModule(testutil.SampleOptions{})
	proxy := refproxy.New()
	require.NoError(t, proxy.Apply(context.Background(), stage(t, proxy, mod, func() any {
		s := refproxy.DefaultSettings()
		s.Mode, s.Internal = refproxy.Strong, true
		return &s
	})))

	var delegates []*il.TypeDef
	for _, typ := range mod.Types {
		if typ.TypeKind == il.TypeDelegate {
			delegates = append(delegates, typ)
		}
	}
	require.NotEmpty(t, delegates)
	before := make([]string, len(delegates))
	for i, d := range delegates {
		before[i] = d.FullName()
	}

	require.NoError(t, New().Apply(context.Background(), stage(t, New(), mod, func() any { return &Settings{Mode: Hex} })))

	for i, d := range delegates {
		assert.NotEqual(t, before[i], d.FullName())
	}
	for _, f := range mod.GlobalType().Fields {
		assert.NotNil(t, mod.FindType(f.Type.Name), "field %s has dangling type %s", f.Name, f.Type.Name)
	}

	res, err := vm.Run(context.Background(), mod)
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleOutput, res.Output)
	assert.Equal(t, testutil.SampleExitCode, res.ExitCode)
}

func TestApply_Deterministic(t *testing.T) {
	names := func() []string {
		mod := testutil.SampleModule(testutil.SampleOptions{})
		require.NoError(t, New().Apply(context.Background(), stage(t, New(), mod, func() any { return &Settings{Mode: Letters} })))
		var out []string
		for _, m := range mod.Members() {
			out = append(out, m.FullName())
		}
		return out
	}
	assert.Equal(t, names(), names())
}
