package antiildasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcloak/internal/testutil"
	"github.com/leapstack-labs/leapcloak/pkg/core"
)

func TestApply(t *testing.T) {
	mod := testutil.SampleModule(testutil.SampleOptions{})
	sc := &core.StageContext{
		Module:  mod,
		Targets: []core.Target{{Member: mod.EntryPoint, Settings: &Settings{}}},
		Report:  &core.ModuleReport{},
	}

	require.NoError(t, New().Apply(context.Background(), sc))
	require.NoError(t, New().Apply(context.Background(), sc))

	assert.True(t, mod.HasAttribute(Attribute))
	assert.Len(t, mod.Attributes, 1)
	assert.Equal(t, 1, sc.Report.Stats[ID+".marked"])
}

func TestApply_NoTargets(t *testing.T) {
	mod := testutil.SampleModule(testutil.SampleOptions{})
	require.NoError(t, New().Apply(context.Background(), &core.StageContext{Module: mod}))
	assert.False(t, mod.HasAttribute(Attribute))
}
