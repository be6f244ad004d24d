package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestPluginsCommand(t *testing.T) {
	out := execute(t, "plugins")

	assert.Contains(t, out, "css")
	assert.Contains(t, out, "import-rewrite")
	assert.Contains(t, out, "transform")
}

func TestVersionCommandText(t *testing.T) {
	out := execute(t, "version")

	assert.Contains(t, out, "modserve")
	assert.Contains(t, out, "go:")
	assert.Contains(t, out, "platform:")
}

func TestVersionCommandJSON(t *testing.T) {
	out := execute(t, "version", "--format", "json")

	assert.Contains(t, out, `"version"`)
	assert.Contains(t, out, `"go_version"`)
}

func TestInitCommandWritesConfig(t *testing.T) {
	dir := t.TempDir()
	out := execute(t, "init", dir)
	assert.Contains(t, out, ".modserve.yml")

	data, err := os.ReadFile(filepath.Join(dir, ".modserve.yml"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "port: 3000")
	assert.Contains(t, content, "debounce: 100ms")
	assert.Contains(t, content, "- index.html")
}

func TestInitCommandRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, ".modserve.yml")
	require.NoError(t, os.WriteFile(target, []byte("root: .\n"), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"init", dir})
	assert.Error(t, rootCmd.Execute())
}

func TestVersionCommandBadFormat(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"version", "--format", "xml"})
	assert.Error(t, rootCmd.Execute())
}
