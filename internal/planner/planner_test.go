package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcloak/internal/framework"
	"github.com/leapstack-labs/leapcloak/internal/registry"
	"github.com/leapstack-labs/leapcloak/internal/testutil"
	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

type fakeSettings struct {
	Level string `mapstructure:"level"`
	On    bool   `mapstructure:"on"`
	Depth int    `mapstructure:"depth"`
}

func (s *fakeSettings) Validate() error {
	if s.Level == "High" && s.Depth > 4 {
		return errors.New("High supports depth up to 4")
	}
	return nil
}

type fakeProtection struct {
	id      string
	before  []string
	methods bool // accept methods only
}

func (f fakeProtection) Descriptor() core.ProtectionDescriptor {
	return core.ProtectionDescriptor{
		ID:     f.id,
		Before: f.before,
		Schema: core.Schema{
			{Name: "level", Kind: core.ParamEnum, Domain: []string{"Low", "High"}, Default: "Low"},
			{Name: "on", Kind: core.ParamBool, Default: "false"},
			{Name: "depth", Kind: core.ParamInt, Min: 1, Max: 8, Default: "3"},
		},
	}
}

func (f fakeProtection) Accepts(m il.Member) bool {
	return !f.methods || m.Kind() == il.KindMethod
}

func (f fakeProtection) NewSettings() any                                { return &fakeSettings{} }
func (f fakeProtection) Apply(context.Context, *core.StageContext) error { return nil }

func (f fakeProtection) Advise(settings any, mod *il.Module, _ core.FrameworkDescriptor, _ core.CapabilitySet) []string {
	if settings.(*fakeSettings).Level == "High" {
		return []string{"high level on " + string(mod.Machine)}
	}
	return nil
}

func newPlanner(t *testing.T) *Planner {
	t.Helper()
	reg := registry.New()
	reg.MustRegister(fakeProtection{id: "scramble", methods: true})
	reg.MustRegister(fakeProtection{id: "hide", before: []string{"scramble"}})
	reg.Freeze()
	resolver := framework.NewResolver(framework.WithDiscoverer(nil))
	return New(reg, resolver, testutil.NewTestLogger(t))
}

func sample() *il.Module { return testutil.SampleModule(testutil.SampleOptions{}) }

func rule(selector string, settings ...core.Setting) core.Rule {
	return core.Rule{Selector: selector, Settings: settings}
}

func mkSetting(id string, params map[string]string) core.Setting {
	return core.Setting{ProtectionID: id, Params: params}
}

func TestPlan_DefaultsAndSettings(t *testing.T) {
	p := newPlanner(t)
	mod := sample()

	plan, err := p.Plan(context.Background(), core.Project{Rules: []core.Rule{
		rule("member.name == 'Describe'", mkSetting("scramble", map[string]string{"on": "true"})),
	}}, []*il.Module{mod})
	require.NoError(t, err)

	require.Len(t, plan.Modules, 1)
	mp := plan.Modules[0]
	assert.Equal(t, core.FrameworkDotNetFramework, mp.Framework.Kind)
	assert.True(t, mp.Capabilities.Has(core.CapUnmanagedCallTrampoline))

	require.Len(t, mp.Stages, 1)
	stage := mp.Stages[0]
	assert.Equal(t, "scramble", stage.ID())
	require.Len(t, stage.Targets, 1)

	target := stage.Targets[0]
	assert.Equal(t, "App.Program::Describe", target.Member.FullName())
	assert.Equal(t, map[string]any{"level": "Low", "on": true, "depth": 3}, target.Params)
	assert.Equal(t, &fakeSettings{Level: "Low", On: true, Depth: 3}, target.Settings)
	assert.Empty(t, plan.Warnings)
}

func TestPlan_LaterRulesOverridePerParameter(t *testing.T) {
	p := newPlanner(t)

	plan, err := p.Plan(context.Background(), core.Project{Rules: []core.Rule{
		rule("member.kind == 'method'", mkSetting("scramble", map[string]string{"level": "high", "on": "true"})),
		rule("member.name == 'Main'", mkSetting("scramble", map[string]string{"level": "Low"})),
	}}, []*il.Module{sample()})
	require.NoError(t, err)

	targets := plan.Modules[0].Stages[0].Targets
	byName := make(map[string]*fakeSettings)
	for _, tg := range targets {
		byName[tg.Member.MemberName()] = tg.Settings.(*fakeSettings)
	}
	assert.Equal(t, &fakeSettings{Level: "Low", On: true, Depth: 3}, byName["Main"])
	assert.Equal(t, &fakeSettings{Level: "High", On: true, Depth: 3}, byName["Describe"])
}

func TestPlan_StagesFollowRegistryOrder(t *testing.T) {
	p := newPlanner(t)
	mod := sample()

	plan, err := p.Plan(context.Background(), core.Project{Rules: []core.Rule{
		rule("member.kind == 'method'", mkSetting("scramble", nil), mkSetting("hide", nil)),
	}}, []*il.Module{mod})
	require.NoError(t, err)

	assert.Equal(t, []string{"hide", "scramble"}, plan.Order)
	stages := plan.Modules[0].Stages
	require.Len(t, stages, 2)
	assert.Equal(t, "hide", stages[0].ID())
	assert.Equal(t, "scramble", stages[1].ID())

	// Targets keep member declaration order.
	var names []string
	for _, tg := range stages[1].Targets {
		names = append(names, tg.Member.FullName())
	}
	var want []string
	for _, m := range mod.Methods() {
		want = append(want, m.FullName())
	}
	assert.Equal(t, want, names)
}

func TestPlan_AcceptsFiltersMembers(t *testing.T) {
	p := newPlanner(t)

	plan, err := p.Plan(context.Background(), core.Project{Rules: []core.Rule{
		rule("member.type == 'App.Program'", mkSetting("scramble", nil), mkSetting("hide", nil)),
	}}, []*il.Module{sample()})
	require.NoError(t, err)

	stages := plan.Modules[0].Stages
	require.Len(t, stages, 2)
	for _, tg := range stages[1].Targets {
		assert.Equal(t, il.KindMethod, tg.Member.Kind(), tg.Member.FullName())
	}
	var kinds []il.MemberKind
	for _, tg := range stages[0].Targets {
		kinds = append(kinds, tg.Member.Kind())
	}
	assert.Contains(t, kinds, il.KindField)
}

func TestPlan_AggregatesConfigurationErrors(t *testing.T) {
	p := newPlanner(t)

	_, err := p.Plan(context.Background(), core.Project{Rules: []core.Rule{
		rule("", mkSetting("no such protection", nil)),
		rule("", mkSetting("scramble", map[string]string{"level": "Extreme", "depth": "x", "colour": "red"})),
		rule("member.name == 'Nothing'", mkSetting("hide", nil)),
		rule("member.kind ==", mkSetting("hide", nil)),
	}}, []*il.Module{sample()})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))

	msg := err.Error()
	for _, want := range []string{
		`rules[0].settings[0]: unknown protection id "no such protection"`,
		`"Extreme" is not one of Low, High`,
		`"x" is not an integer`,
		`unknown parameter "colour"`,
		`rules[2]: selector "member.name == 'Nothing'" matches no member`,
		`rules[3]:`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestPlan_SelectorRuntimeError(t *testing.T) {
	p := newPlanner(t)

	_, err := p.Plan(context.Background(), core.Project{Rules: []core.Rule{
		rule("member.name", mkSetting("hide", nil)),
	}}, []*il.Module{sample()})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "want bool")
}

func TestPlan_SettingsValidation(t *testing.T) {
	p := newPlanner(t)

	_, err := p.Plan(context.Background(), core.Project{Rules: []core.Rule{
		rule("member.name == 'Main'", mkSetting("scramble", map[string]string{"level": "High", "depth": "6"})),
	}}, []*il.Module{sample()})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "High supports depth up to 4")
}

func TestPlan_AdvisorWarningsAreDeduplicated(t *testing.T) {
	p := newPlanner(t)

	plan, err := p.Plan(context.Background(), core.Project{Rules: []core.Rule{
		rule("member.kind == 'method'", mkSetting("scramble", map[string]string{"level": "High"})),
	}}, []*il.Module{sample()})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sample: scramble: high level on i386"}, plan.Warnings)
}

func TestPlan_DoesNotMutateModules(t *testing.T) {
	p := newPlanner(t)
	mod := sample()
	before := len(mod.Members())
	refs := len(mod.MemberRefs)

	_, err := p.Plan(context.Background(), core.Project{Rules: []core.Rule{
		rule("", mkSetting("scramble", nil), mkSetting("hide", nil)),
	}}, []*il.Module{mod})
	require.NoError(t, err)
	assert.Len(t, mod.Members(), before)
	assert.Len(t, mod.MemberRefs, refs)
}

func TestPlan_Cancelled(t *testing.T) {
	p := newPlanner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Plan(ctx, core.Project{Rules: []core.Rule{rule("", mkSetting("hide", nil))}}, []*il.Module{sample()})
	assert.ErrorIs(t, err, context.Canceled)
}
