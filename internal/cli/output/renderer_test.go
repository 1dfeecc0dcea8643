package output

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		mode Mode
		want Mode
	}{
		{ModeAuto, ModeText},
		{"", ModeText},
		{ModeText, ModeText},
		{ModeJSON, ModeJSON},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, false, tt.mode)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestNewRenderer_BufferIsNotTTY(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{}, &bytes.Buffer{}, ModeAuto)
	assert.False(t, r.IsTTY())
}

func TestRenderer_PlainWhenNotTTY(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRendererWithTTY(&out, &errOut, false, ModeText)

	r.Header(1, "Protections")
	r.Success("done")
	r.StatusLine("App.lcim", "failed", "(rename)")
	r.KeyValue("Run", "abc")
	r.Warning("careful")
	r.Error("broken")

	assert.False(t, ansi.MatchString(out.String()), out.String())
	assert.Contains(t, out.String(), "Protections")
	assert.Contains(t, out.String(), IconSuccess+" done")
	assert.Contains(t, out.String(), IconFailure+" App.lcim (rename)")
	assert.Contains(t, out.String(), "Run:")
	assert.Contains(t, errOut.String(), "careful")
	assert.Contains(t, errOut.String(), "broken")
}

func TestRenderer_JSON(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeJSON)
	require.NoError(t, r.JSON(map[string]int{"count": 3}))
	assert.JSONEq(t, `{"count": 3}`, out.String())
}

func TestRenderer_Table(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeText)
	r.Table([]string{"ID", "Name"}, [][]string{{"rename", "Rename"}, {"ref proxy", "Reference proxy"}})

	s := out.String()
	assert.Contains(t, s, "ID")
	assert.Contains(t, s, "ref proxy")
	assert.Contains(t, s, "Reference proxy")
	assert.Contains(t, s, "+")
}
