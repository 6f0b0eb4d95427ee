package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playtimetracker/internal/config"
	"playtimetracker/internal/db"
	"playtimetracker/internal/logger"
	"playtimetracker/internal/monitor"
	"playtimetracker/internal/timefmt"
	"playtimetracker/internal/tracker"
)

var testEpoch = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	localAddr  = "127.0.0.1:40000"
	remoteAddr = "203.0.113.7:40000"
)

type apiFixture struct {
	api      *APIServer
	coord    *tracker.Coordinator
	clock    *quartz.Mock
	database *db.Database
	metrics  *monitor.PrometheusMetrics
}

// setupTestAPI creates an API server over a temporary SQLite database with
// "lobby" excluded and no API key configured.
func setupTestAPI(t *testing.T) *apiFixture {
	t.Helper()

	database, err := db.NewDatabase(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Initialize())

	clk := quartz.NewMock(t)
	clk.Set(testEpoch)

	mon := monitor.NewMonitor()
	metrics := monitor.NewPrometheusMetrics(mon)

	opts := tracker.DefaultOptions()
	opts.Clock = clk
	opts.Excluded = db.NewExclusionSet("lobby")
	opts.Metrics = metrics
	coord := tracker.New(db.NewRepository(database, clk), nil, opts)

	metrics.SetSources(monitor.Sources{
		OnlinePlayers: coord.OnlineCount,
		ActiveQueues:  coord.ActiveQueues,
		DBStats:       database.Stats,
	})

	t.Cleanup(func() {
		_ = coord.Shutdown(context.Background())
		database.Close()
	})

	return &apiFixture{
		api:      NewAPIServer(config.APIConfig{}, coord, mon, metrics),
		coord:    coord,
		clock:    clk,
		database: database,
		metrics:  metrics,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func request(t *testing.T, h http.Handler, method, path string, body interface{}, remote, key string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = remote
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	return request(t, f.api.GetRouter(), method, path, body, localAddr, "")
}

func (f *apiFixture) join(t *testing.T, name, server string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	code, _ := f.do(t, http.MethodPost, "/api/events/connect", ConnectRequest{PlayerID: id.String(), DisplayName: name})
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/events/server", ServerSwitchRequest{PlayerID: id.String(), Server: server})
	require.Equal(t, http.StatusOK, code)
	return id
}

func (f *apiFixture) leave(t *testing.T, id uuid.UUID) {
	t.Helper()
	code, _ := f.do(t, http.MethodPost, "/api/events/disconnect", DisconnectRequest{PlayerID: id.String()})
	require.Equal(t, http.StatusOK, code)
}

// **Feature: playtime-tracking, Property 6: API Key Authentication**
//
// *For any* configured key, a remote request SHALL be allowed if and only if
// its X-API-Key header equals that key.
func TestProperty6_APIKeyAuthentication(t *testing.T) {
	f := setupTestAPI(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	apiKeyGen := gen.SliceOfN(16, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars)
	})

	properties.Property("valid API key allows request", prop.ForAll(
		func(key string) bool {
			srv := NewAPIServer(config.APIConfig{APIKey: key}, f.coord, nil, nil)
			code, _ := request(t, srv.GetRouter(), http.MethodGet, "/api/online", nil, remoteAddr, key)
			return code == http.StatusOK
		},
		apiKeyGen,
	))

	properties.Property("invalid API key rejects request", prop.ForAll(
		func(valid, invalid string) bool {
			if valid == invalid {
				return true
			}
			srv := NewAPIServer(config.APIConfig{APIKey: valid}, f.coord, nil, nil)
			code, _ := request(t, srv.GetRouter(), http.MethodGet, "/api/online", nil, remoteAddr, invalid)
			return code == http.StatusUnauthorized
		},
		apiKeyGen,
		apiKeyGen,
	))

	properties.Property("missing API key rejects request", prop.ForAll(
		func(key string) bool {
			srv := NewAPIServer(config.APIConfig{APIKey: key}, f.coord, nil, nil)
			code, _ := request(t, srv.GetRouter(), http.MethodGet, "/api/online", nil, localAddr, "")
			return code == http.StatusUnauthorized
		},
		apiKeyGen,
	))

	properties.TestingRun(t)
}

func TestAuth_NoKeyAllowsOnlyLoopback(t *testing.T) {
	f := setupTestAPI(t)
	router := f.api.GetRouter()

	code, _ := request(t, router, http.MethodGet, "/api/online", nil, localAddr, "")
	assert.Equal(t, http.StatusOK, code)

	code, env := request(t, router, http.MethodGet, "/api/online", nil, remoteAddr, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)

	// Forwarded headers are not trusted.
	req := httptest.NewRequest(http.MethodGet, "/api/online", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth_NeedsNoKey(t *testing.T) {
	f := setupTestAPI(t)

	code, env := request(t, f.api.GetRouter(), http.MethodGet, "/api/health", nil, remoteAddr, "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
}

func TestEvents_PlaytimeExcludesLobby(t *testing.T) {
	f := setupTestAPI(t)
	id := f.join(t, "Steve", "survival")

	f.clock.Advance(90 * time.Second)
	code, _ := f.do(t, http.MethodPost, "/api/events/server", ServerSwitchRequest{PlayerID: id.String(), Server: "lobby"})
	require.Equal(t, http.StatusOK, code)
	f.clock.Advance(30 * time.Second)

	code, env := f.do(t, http.MethodGet, "/api/players/"+id.String()+"/playtime", nil)
	require.Equal(t, http.StatusOK, code)

	var pt PlaytimeResponse
	require.NoError(t, json.Unmarshal(env.Data, &pt))
	assert.Equal(t, id.String(), pt.PlayerID)
	assert.Equal(t, int64(90), pt.Seconds)
	assert.Equal(t, timefmt.Breakdown{Minutes: 1, Seconds: 30}, pt.Breakdown)
	assert.Equal(t, timefmt.Short(90), pt.Short)
	assert.Equal(t, timefmt.Normal(90), pt.Normal)
	assert.Equal(t, timefmt.Detailed(90), pt.Detailed)

	f.leave(t, id)

	code, env = f.do(t, http.MethodGet, "/api/players/"+id.String()+"/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	var sessions []db.SessionDTO
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	require.Len(t, sessions, 2)
	assert.Equal(t, "survival", sessions[0].Server)
	assert.Equal(t, int64(90), sessions[0].ElapsedSeconds)
	assert.Equal(t, "lobby", sessions[1].Server)
	assert.Equal(t, int64(30), sessions[1].ElapsedSeconds)
	for _, s := range sessions {
		assert.False(t, s.Open)
		assert.NotNil(t, s.EndTime)
	}

	code, env = f.do(t, http.MethodGet, "/api/sessions/"+strconv.FormatInt(sessions[0].ID, 10), nil)
	require.Equal(t, http.StatusOK, code)
	var one db.SessionDTO
	require.NoError(t, json.Unmarshal(env.Data, &one))
	assert.Equal(t, sessions[0].ID, one.ID)
	assert.Equal(t, "survival", one.Server)
}

func TestEvents_InvalidBodies(t *testing.T) {
	f := setupTestAPI(t)

	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{"connect without name", "/api/events/connect", map[string]string{"player_id": uuid.NewString()}},
		{"connect with bad id", "/api/events/connect", ConnectRequest{PlayerID: "not-a-uuid", DisplayName: "Alex"}},
		{"switch without server", "/api/events/server", map[string]string{"player_id": uuid.NewString()}},
		{"disconnect without id", "/api/events/disconnect", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, env.Success)
		})
	}
}

func TestPlaytime_Errors(t *testing.T) {
	f := setupTestAPI(t)

	code, _ := f.do(t, http.MethodGet, "/api/players/nope/playtime", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/api/players/"+uuid.NewString()+"/playtime", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodGet, "/api/sessions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/api/sessions/999", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLeaderboard(t *testing.T) {
	f := setupTestAPI(t)

	steve := f.join(t, "Steve", "survival")
	alex := f.join(t, "Alex", "creative")
	f.clock.Advance(90 * time.Second)
	f.leave(t, steve)
	f.clock.Advance(110 * time.Second)
	f.leave(t, alex)

	code, env := f.do(t, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, code)
	var rows []LeaderboardRow
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, LeaderboardRow{Rank: 1, DisplayName: "Alex", TotalSeconds: 200, Playtime: timefmt.Normal(200)}, rows[0])
	assert.Equal(t, LeaderboardRow{Rank: 2, DisplayName: "Steve", TotalSeconds: 90, Playtime: timefmt.Normal(90)}, rows[1])

	code, env = f.do(t, http.MethodGet, "/api/leaderboard?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	assert.Len(t, rows, 1)

	code, _ = f.do(t, http.MethodGet, "/api/leaderboard?limit=1000", nil)
	assert.Equal(t, http.StatusOK, code)

	for _, bad := range []string{"0", "-3", "ten"} {
		code, _ = f.do(t, http.MethodGet, "/api/leaderboard?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, code, "limit=%s", bad)
	}
}

func TestOnline_ReflectsRegistry(t *testing.T) {
	f := setupTestAPI(t)
	id := f.join(t, "Steve", "survival")

	code, env := f.do(t, http.MethodGet, "/api/online", nil)
	require.Equal(t, http.StatusOK, code)
	var online OnlineResponse
	require.NoError(t, json.Unmarshal(env.Data, &online))
	require.Equal(t, 1, online.Count)
	assert.Equal(t, id, online.Players[0].PlayerID)
	assert.Equal(t, "survival", online.Players[0].Server)
	assert.Equal(t, "Steve", online.Players[0].DisplayName)

	f.leave(t, id)
	_, env = f.do(t, http.MethodGet, "/api/online", nil)
	require.NoError(t, json.Unmarshal(env.Data, &online))
	assert.Zero(t, online.Count)
}

func TestAdmin_SweepAndReload(t *testing.T) {
	f := setupTestAPI(t)

	code, env := f.do(t, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, code)
	var res tracker.SweepResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Idle)

	f.join(t, "Steve", "survival")
	done := f.join(t, "Alex", "survival")
	f.clock.Advance(time.Minute)
	f.leave(t, done)

	_, env = f.do(t, http.MethodPost, "/api/admin/sweep", nil)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.Players)
	assert.Zero(t, res.Failed)

	code, env = f.do(t, http.MethodPost, "/api/admin/reload", nil)
	require.Equal(t, http.StatusOK, code)
	var reload ReloadResponse
	require.NoError(t, json.Unmarshal(env.Data, &reload))
	assert.Equal(t, 2, reload.Updated)
	assert.Empty(t, reload.Errors)
}

func TestMetrics_ServesRegistry(t *testing.T) {
	f := setupTestAPI(t)
	f.join(t, "Steve", "survival")

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.RemoteAddr = localAddr
	w := httptest.NewRecorder()
	f.api.GetRouter().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "playtime_online_players 1")
	assert.Contains(t, body, `playtime_transitions_total{kind="connect",result="ok"} 1`)
}

func TestStoreFailures_MapToServiceUnavailable(t *testing.T) {
	f := setupTestAPI(t)
	id := f.join(t, "Steve", "survival")

	f.database.Close()

	code, _ := f.do(t, http.MethodGet, "/api/leaderboard", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = f.do(t, http.MethodPost, "/api/events/disconnect", DisconnectRequest{PlayerID: id.String()})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestEvents_AfterShutdown(t *testing.T) {
	f := setupTestAPI(t)
	require.NoError(t, f.coord.Shutdown(context.Background()))

	code, _ := f.do(t, http.MethodPost, "/api/events/connect", ConnectRequest{PlayerID: uuid.NewString(), DisplayName: "Late"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRequestLogger_ReportsMiddlewareCaller(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, logger.Init(logger.Config{Debug: true, Dir: dir}))
	t.Cleanup(func() { _ = logger.Init(logger.Config{}) })

	f := setupTestAPI(t)
	code, _ := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, code)
	logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, logger.FileName))
	require.NoError(t, err)

	var found bool
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		var entry struct {
			Msg    string `json:"msg"`
			Caller string `json:"caller"`
			Path   string `json:"path"`
		}
		if json.Unmarshal(line, &entry) != nil {
			continue
		}
		if entry.Msg == "request" && entry.Path == "/api/health" {
			found = true
			assert.Contains(t, entry.Caller, "api/middleware.go")
		}
	}
	assert.True(t, found, "no request line in %s", data)
}
