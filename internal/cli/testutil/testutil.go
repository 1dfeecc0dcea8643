// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcloak/internal/cli/output"
	"github.com/leapstack-labs/leapcloak/internal/testutil"
	"github.com/leapstack-labs/leapcloak/pkg/image"
)

// ProjectConfig is the leapcloak.yaml written by SetupTestProject. It
// proxies every method call of the three sample modules.
const ProjectConfig = `seed: cli-test
output_dir: out
state_path: .leapcloak/state.db
workers: 2
modules:
  - path: bin/net20/Sample.lcim
  - path: bin/net40/Sample.lcim
  - path: bin/net471/Sample.lcim
rules:
  - selector: "member.kind == 'method'"
    settings:
      - id: ref proxy
        params: {mode: Strong, encoding: Expression}
`

// SetupTestProject creates a temporary project holding the sample program
// built for every framework flavor, plus ProjectConfig.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	for _, fw := range testutil.Frameworks {
		mod := testutil.SampleModule(testutil.SampleOptions{Framework: fw})
		require.NoError(t, image.WriteFile(filepath.Join(dir, filepath.FromSlash(mod.Path)), mod))
	}
	WriteConfig(t, dir, ProjectConfig)
	return dir
}

// WriteConfig writes leapcloak.yaml into dir.
func WriteConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "leapcloak.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererJSON creates a new test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// SyncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContainsAll checks that s contains every expected substring.
func AssertContainsAll(t *testing.T, s string, expected ...string) {
	t.Helper()
	for _, e := range expected {
		if !strings.Contains(s, e) {
			t.Errorf("output does not contain %q:\n%s", e, s)
		}
	}
}
