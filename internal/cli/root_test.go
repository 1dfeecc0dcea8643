package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clitest "github.com/leapstack-labs/leapcloak/internal/cli/testutil"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()
	want := []string{"version", "protect", "plan", "protections", "frameworks", "exec", "dump", "pack", "runs", "completion"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, flag := range []string{"config", "base-dir", "output-dir", "state", "workers", "verbose", "output"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestRootCmd_Version(t *testing.T) {
	t.Chdir(t.TempDir())
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "leapcloak v"+Version)
}

func TestRootCmd_Completion(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			stdout, _, err := execute(t, "completion", shell)
			require.NoError(t, err)
			assert.Contains(t, stdout, "leapcloak")
		})
	}

	_, _, err := execute(t, "completion", "tcsh")
	assert.Error(t, err)
}

func TestRootCmd_ProtectWithFlags(t *testing.T) {
	dir := clitest.SetupTestProject(t)
	elsewhere := t.TempDir()
	t.Chdir(elsewhere)

	stdout, _, err := execute(t, "protect",
		"--config", filepath.Join(dir, "leapcloak.yaml"),
		"--output-dir", "dist",
		"--state", ":memory:",
		"--workers", "1",
		"-o", "json",
	)
	require.NoError(t, err)

	var res struct {
		Status  string `json:"status"`
		Modules []struct {
			Output string `json:"output"`
		} `json:"modules"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, "completed", res.Status)
	require.Len(t, res.Modules, 3)
	assert.Equal(t, filepath.Join(elsewhere, "dist", "bin", "net20", "Sample.lcim"), res.Modules[0].Output)
	assert.NoDirExists(t, filepath.Join(dir, ".leapcloak"))
}

func TestRootCmd_VerboseLogsToStderr(t *testing.T) {
	dir := clitest.SetupTestProject(t)
	t.Chdir(dir)

	stdout, stderr, err := execute(t, "plan", "--verbose")
	require.NoError(t, err)
	clitest.AssertNoANSI(t, stdout)
	assert.Contains(t, stderr, "using config file")
	assert.NotContains(t, stdout, "using config file")
}

func TestRootCmd_InvalidConfiguration(t *testing.T) {
	t.Chdir(t.TempDir())

	_, _, err := execute(t, "protections", "--output", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output must be one of")

	_, _, err = execute(t, "protections", "--workers=-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers must not be negative")
}
