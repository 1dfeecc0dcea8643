package image

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcloak/internal/testutil"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

func TestEncodeDecode_PreservesStructure(t *testing.T) {
	mod := testutil.SampleModule(testutil.SampleOptions{VarargSite: true})
	native := mod.GlobalType().AddMethod(&il.MethodDef{
		Name: "decode", Sig: il.StaticSig(il.Int32(), il.Int32()), Impl: il.ImplNative,
		NativeCode: []byte{0x8B, 0x44, 0x24, 0x04, 0xC2, 0x04, 0x00},
	})

	data, err := Encode(mod)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte(Magic)))

	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, mod.Name, got.Name)
	assert.Equal(t, mod.Machine, got.Machine)
	require.NotNil(t, got.EntryPoint)
	assert.Equal(t, "App.Program::Main", got.EntryPoint.FullName())
	assert.Len(t, got.MemberRefs, len(mod.MemberRefs))

	// Row ids and tokens survive.
	tok, err := mod.TokenOf(native)
	require.NoError(t, err)
	resolved, err := got.ResolveToken(tok)
	require.NoError(t, err)
	decoded := resolved.(*il.MethodDef)
	assert.Equal(t, native.NativeCode, decoded.NativeCode)
	assert.Equal(t, il.ImplNative, decoded.Impl)

	// Branch targets and handlers point into the same body.
	body := got.EntryPoint.Body
	require.Len(t, body.Handlers, 1)
	h := body.Handlers[0]
	assert.Equal(t, "System.InvalidOperationException", h.CatchType)
	assert.GreaterOrEqual(t, body.IndexOf(h.TryStart), 0)
	assert.Same(t, h.TryEnd, h.HandlerStart)
	for _, in := range body.Instructions {
		if target, ok := in.Operand.(*il.Instruction); ok {
			assert.GreaterOrEqual(t, body.IndexOf(target), 0, "%s", in)
		}
	}

	// Call operands resolve to the decoded module's own members.
	for _, in := range body.Instructions {
		if ref, ok := in.Operand.(*il.MethodDef); ok {
			assert.Same(t, got.FindType(ref.DeclaringTypeName()), ref.DeclaringType)
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a, err := Encode(testutil.SampleModule(testutil.SampleOptions{}))
	require.NoError(t, err)
	b, err := Encode(testutil.SampleModule(testutil.SampleOptions{}))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong magic", []byte("MZ\x90\x00\x03")},
		{"wrong version", []byte("LCIM\x09")},
		{"corrupt payload", []byte("LCIM\x01garbage")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.Error(t, err)
		})
	}
	_, err := Decode([]byte("MZ\x90\x00\x03"))
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestUnmarshal_BadTokens(t *testing.T) {
	doc := `
name: Broken
machine: anycpu
runtime: v4.0.30319
types:
  - rid: 1
    name: "<Module>"
    vis: private
    kind: global
    methods:
      - rid: 1
        name: f
        vis: public
        sig: {ret: {k: void}}
        body:
          code:
            - {op: call, tok: 167772167}
            - {op: ret}
`
	_, err := Unmarshal([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not resolve")
}

func TestWriteFile_ReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "Sample"+Extension)

	mod := testutil.SampleModule(testutil.SampleOptions{})
	require.NoError(t, WriteFile(path, mod))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file left behind")

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, got.Path)
	assert.Equal(t, "Sample", got.Name)
}
