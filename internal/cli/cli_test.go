package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playtimetracker/internal/config"
	"playtimetracker/internal/db"
	"playtimetracker/internal/errs"
	"playtimetracker/internal/timefmt"
)

// seedConfig writes a config over a fresh SQLite file holding two players.
func seedConfig(t *testing.T) (path string, steve uuid.UUID) {
	t.Helper()
	dir := t.TempDir()

	gc := config.DefaultGlobalConfig()
	gc.Database.Path = filepath.Join(dir, "playtime.db")
	gc.LogDir = filepath.Join(dir, "logs")
	path = filepath.Join(dir, "config.yml")
	require.NoError(t, gc.Save(path))

	database, err := db.NewDatabase(gc.Database.Path)
	require.NoError(t, err)
	require.NoError(t, database.Initialize())
	defer database.Close()

	clk := quartz.NewMock(t)
	clk.Set(time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC))
	repo := db.NewRepository(database, clk)
	ctx := context.Background()

	steve, alex := uuid.New(), uuid.New()
	require.NoError(t, repo.RegisterUser(ctx, steve, "Steve"))
	require.NoError(t, repo.RegisterUser(ctx, alex, "Alex"))

	s1, err := repo.OpenSession(ctx, steve, "survival")
	require.NoError(t, err)
	s2, err := repo.OpenSession(ctx, alex, "creative")
	require.NoError(t, err)

	clk.Advance(45 * time.Minute)
	require.NoError(t, repo.CloseSession(ctx, s2))
	clk.Advance(2*time.Hour + 27*time.Minute)
	require.NoError(t, repo.CloseSession(ctx, s1))

	for _, id := range []uuid.UUID{steve, alex} {
		_, err := repo.ComputeAndStoreTotal(ctx, id, db.NewExclusionSet())
		require.NoError(t, err)
	}
	return path, steve
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	defer func() { stdout = prev }()

	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTop_PrintsOrdinalsAndDurations(t *testing.T) {
	path, _ := seedConfig(t)

	out, err := run(t, "--config", path, "top", "-n", "5")
	require.NoError(t, err)

	steveTotal := int64((3*time.Hour + 12*time.Minute) / time.Second)
	assert.Contains(t, out, "1st")
	assert.Contains(t, out, "Steve")
	assert.Contains(t, out, timefmt.Normal(steveTotal))
	assert.Contains(t, out, "2nd")
	assert.Contains(t, out, "Alex")
	assert.Less(t, bytes.Index([]byte(out), []byte("Steve")), bytes.Index([]byte(out), []byte("Alex")))
}

func TestPlaytime_JSON(t *testing.T) {
	path, steve := seedConfig(t)

	out, err := run(t, "--config", path, "-o", "json", "playtime", steve.String())
	require.NoError(t, err)

	var pt Playtime
	require.NoError(t, json.Unmarshal([]byte(out), &pt))
	assert.Equal(t, "Steve", pt.DisplayName)
	assert.Equal(t, int64(3*3600+12*60), pt.Seconds)
	assert.Equal(t, timefmt.Detailed(pt.Seconds), pt.Detailed)
}

func TestPlaytime_UnknownPlayer(t *testing.T) {
	path, _ := seedConfig(t)

	_, err := run(t, "--config", path, "playtime", uuid.NewString())
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = run(t, "--config", path, "playtime", "steve")
	assert.Error(t, err)
}

func TestSessions_Table(t *testing.T) {
	path, steve := seedConfig(t)

	out, err := run(t, "--config", path, "sessions", steve.String())
	require.NoError(t, err)
	assert.Contains(t, out, "SERVER")
	assert.Contains(t, out, "survival")
	assert.Contains(t, out, timefmt.Short(3*3600+12*60))
}

func TestReload(t *testing.T) {
	path, _ := seedConfig(t)

	out, err := run(t, "--config", path, "reload")
	require.NoError(t, err)
	assert.Contains(t, out, "Reloaded 2 player(s)")
}

func TestCheckConfig(t *testing.T) {
	path, _ := seedConfig(t)

	out, err := run(t, "--config", path, "check-config")
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "sqlite")

	bad := filepath.Join(t.TempDir(), "bad.yml")
	gc := config.DefaultGlobalConfig()
	gc.Cache.Backend = "memcached"
	require.NoError(t, gc.Save(bad))

	_, err = run(t, "--config", bad, "check-config")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}
