package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/fatvfs/internal/config"
	"github.com/objectfs/fatvfs/pkg/errors"
)

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Device.Path = filepath.Join(t.TempDir(), "disk.img")
	cfg.Filesystem.ImageSize = "4MB"
	return cfg
}

// run executes a command on a copy of cfg, as main does for each process.
func run(t *testing.T, cfg *config.Configuration, name string, args ...string) (string, error) {
	t.Helper()
	cmd, ok := lookupCommand(name)
	require.True(t, ok, name)
	c := *cfg
	var out bytes.Buffer
	err := cmd.run(&c, args, &out)
	return out.String(), err
}

func TestLookupCommand(t *testing.T) {
	for _, name := range []string{"format", "ls", "cat", "get", "put", "mkdir", "rm", "stat", "mount"} {
		_, ok := lookupCommand(name)
		assert.True(t, ok, name)
	}
	_, ok := lookupCommand("defrag")
	assert.False(t, ok)
}

func TestCommands_RoundTrip(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "format", "-fat", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "FAT12")

	local := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(local, []byte("line one\nline two\n"), 0o644))

	_, err = run(t, cfg, "mkdir", "/DOCS")
	require.NoError(t, err)
	_, err = run(t, cfg, "put", local, "/DOCS/NOTES.TXT")
	require.NoError(t, err)

	out, err = run(t, cfg, "ls", "/DOCS")
	require.NoError(t, err)
	assert.Contains(t, out, "NOTES.TXT")
	assert.Contains(t, out, "18")

	out, err = run(t, cfg, "cat", "/DOCS/NOTES.TXT")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", out)

	// overwriting with shorter content replaces the file
	require.NoError(t, os.WriteFile(local, []byte("short"), 0o644))
	_, err = run(t, cfg, "put", local, "/DOCS/NOTES.TXT")
	require.NoError(t, err)

	copyPath := filepath.Join(t.TempDir(), "out.txt")
	_, err = run(t, cfg, "get", "/DOCS/NOTES.TXT", copyPath)
	require.NoError(t, err)
	data, err := os.ReadFile(copyPath)
	require.NoError(t, err)
	assert.Equal(t, "short", string(data))

	_, err = run(t, cfg, "rm", "/DOCS")
	assert.ErrorIs(t, err, errors.ErrNotEmpty)

	_, err = run(t, cfg, "rm", "/DOCS/NOTES.TXT")
	require.NoError(t, err)
	_, err = run(t, cfg, "rm", "/DOCS")
	require.NoError(t, err)

	out, err = run(t, cfg, "ls")
	require.NoError(t, err)
	assert.NotContains(t, out, "DOCS")
}

func TestCommands_Stat(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, cfg, "format", "-fat", "16")
	require.NoError(t, err)

	out, err := run(t, cfg, "stat")
	require.NoError(t, err)
	assert.Contains(t, out, "FAT16")
	assert.Contains(t, out, "cache buffers")
}

func TestCommands_ReadOnlyNeverCreates(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "ls")
	assert.Error(t, err)
	_, statErr := os.Stat(cfg.Device.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCommands_ArgumentErrors(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "cat")
	assert.Error(t, err)
	_, err = run(t, cfg, "put", "only-one")
	assert.Error(t, err)
	_, err = run(t, cfg, "mount")
	assert.Error(t, err)
}

func TestCommands_RemoveRoot(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, cfg, "format")
	require.NoError(t, err)

	_, err = run(t, cfg, "rm", "/")
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("", "/tmp/x.img", "DEBUG", true)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.img", cfg.Device.Path)
	assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
	assert.True(t, cfg.Device.ReadOnly)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "", "", false)
	assert.Error(t, err)
}
