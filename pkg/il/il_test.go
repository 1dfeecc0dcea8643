package il

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModule_RowIDsStableAcrossAppends(t *testing.T) {
	mod := NewModule("App")
	prog := mod.AddType(&TypeDef{Namespace: "App", Name: "Program", Visibility: Public})
	main := prog.AddMethod(&MethodDef{Name: "Main", Sig: StaticSig(Int32()), Visibility: Public})

	tok, err := mod.TokenOf(main)
	require.NoError(t, err)

	// Adding members to an earlier type must not move existing row ids.
	mod.GlobalType().AddMethod(&MethodDef{Name: "helper", Sig: StaticSig(Void())})
	mod.GlobalType().AddField(&FieldDef{Name: "f", Type: Object(), Static: true})

	resolved, err := mod.ResolveToken(tok)
	require.NoError(t, err)
	assert.Same(t, main, resolved)
}

func TestModule_ImportMethodDeduplicates(t *testing.T) {
	mod := NewModule("App")
	a := mod.ImportMethod("System.Console", "WriteLine", StaticSig(Void(), String()))
	b := mod.ImportMethod("System.Console", "WriteLine", StaticSig(Void(), String()))
	c := mod.ImportMethod("System.Console", "WriteLine", StaticSig(Void(), Int32()))

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Len(t, mod.MemberRefs, 2)

	tok, err := mod.TokenOf(c)
	require.NoError(t, err)
	assert.Equal(t, TableMemberRef, TokenTable(tok))
	assert.Equal(t, uint32(2), TokenRID(tok))
}

func TestModule_ResolveTokenUnknown(t *testing.T) {
	mod := NewModule("App")
	_, err := mod.ResolveToken(Token(TableMethodDef, 99))
	assert.Error(t, err)
}

func TestModule_ModuleInitializerCreatedOnce(t *testing.T) {
	mod := NewModule("App")
	first := mod.ModuleInitializer()
	second := mod.ModuleInitializer()
	assert.Same(t, first, second)
	assert.Equal(t, ".cctor", first.Name)
	assert.Equal(t, GlobalTypeName, first.DeclaringTypeName())
}

func TestBody_PrependKeepsBranchTargets(t *testing.T) {
	target := Op(Ret)
	body := NewBody(Instr(Br, target), target)
	body.Prepend(Instr(LdcI4, int32(1)), Op(Pop))

	require.Len(t, body.Instructions, 4)
	assert.Same(t, target, body.Instructions[2].Operand)
	assert.Equal(t, 3, body.IndexOf(target))
	assert.Equal(t, 4, body.IndexOf(nil))
}

func TestTypeSig_EqualAndString(t *testing.T) {
	tests := []struct {
		name string
		a, b TypeSig
		eq   bool
		str  string
	}{
		{"primitive", Int32(), Int32(), true, "int32"},
		{"class", Class("App.Foo"), Class("App.Foo"), true, "class App.Foo"},
		{"class mismatch", Class("App.Foo"), Class("App.Bar"), false, "class App.Foo"},
		{"byref", ByRef(Int32()), ByRef(Int32()), true, "int32&"},
		{"byref elem mismatch", ByRef(Int32()), ByRef(String()), false, "int32&"},
		{"array", SZArray(Object()), SZArray(Object()), true, "object[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.eq, tt.a.Equal(tt.b))
			assert.Equal(t, tt.str, tt.a.String())
		})
	}
}

func TestMethodSig_StackArgs(t *testing.T) {
	assert.Equal(t, 2, StaticSig(Void(), Int32(), String()).StackArgs())
	assert.Equal(t, 3, InstanceSig(Void(), Int32(), String()).StackArgs())
}

func TestParseOpCodeRoundTrip(t *testing.T) {
	for op := Nop; op <= Constrained; op++ {
		parsed, err := ParseOpCode(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, parsed)
	}
	_, err := ParseOpCode("bogus")
	assert.Error(t, err)
}

func TestTypeDef_KindAndTypeKind(t *testing.T) {
	mod := NewModule("M")
	global := mod.GlobalType()
	assert.Same(t, mod.Types[0], global)
	assert.Equal(t, TypeGlobal, global.TypeKind)
	assert.Equal(t, KindType, global.Kind())

	vis, err := ParseVisibility("internal")
	require.NoError(t, err)
	assert.Equal(t, Internal, vis)
	assert.Equal(t, "internal", Internal.String())
}
