package logger

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, dir string) string {
	t.Helper()
	Sync()
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	return string(data)
}

func resetLogger(t *testing.T) {
	t.Cleanup(func() { _ = Init(Config{}) })
}

func TestInit_ReplacesLogFile(t *testing.T) {
	resetLogger(t)
	first, second := t.TempDir(), t.TempDir()

	require.NoError(t, Init(Config{Dir: first}))
	Info("player %d connected", 1)

	require.NoError(t, Init(Config{Dir: second}))
	Info("player %d connected", 2)

	a := readLog(t, first)
	assert.Contains(t, a, `"msg":"player 1 connected"`)
	assert.NotContains(t, a, "player 2")

	b := readLog(t, second)
	assert.Contains(t, b, "player 2 connected")
	assert.Contains(t, b, `"level":"info"`)
}

func TestInit_TeesToConsole(t *testing.T) {
	resetLogger(t)
	dir := t.TempDir()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	prev := os.Stderr
	os.Stderr = w
	err = Init(Config{Dir: dir, Console: true})
	os.Stderr = prev
	require.NoError(t, err)

	Warn("store slow")
	Sync()
	// Detach the pipe before closing it.
	require.NoError(t, Init(Config{Dir: t.TempDir()}))
	require.NoError(t, w.Close())

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), "store slow")
	assert.Contains(t, readLog(t, dir), "store slow")
}

func TestInit_CreatesMissingDir(t *testing.T) {
	resetLogger(t)
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	require.NoError(t, Init(Config{Dir: dir}))
	Error("boom")
	assert.Contains(t, readLog(t, dir), `"level":"error"`)
}

func TestSetLevel(t *testing.T) {
	resetLogger(t)
	dir := t.TempDir()
	require.NoError(t, Init(Config{Dir: dir}))

	assert.False(t, IsLevelEnabled(LevelDebug))
	assert.True(t, IsLevelEnabled(LevelInfo))
	Debug("hidden")

	SetLevel(LevelDebug)
	assert.True(t, IsLevelEnabled(LevelDebug))
	Debug("shown")

	SetLevel(LevelWarn)
	assert.False(t, IsLevelEnabled(LevelInfo))
	assert.True(t, IsLevelEnabled(LevelError))
	Info("dropped")

	out := readLog(t, dir)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.NotContains(t, out, "dropped")
}

func TestInit_DebugConfig(t *testing.T) {
	resetLogger(t)
	require.NoError(t, Init(Config{Debug: true, Dir: t.TempDir()}))
	assert.True(t, IsLevelEnabled(LevelDebug))

	require.NoError(t, Init(Config{Dir: t.TempDir()}))
	assert.False(t, IsLevelEnabled(LevelDebug))
}
