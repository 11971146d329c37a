package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/bgg-sync/internal/testutil"
	"github.com/Sternrassler/bgg-sync/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv points the configuration at mock and a temporary database.
func setupEnv(t *testing.T, mock *testutil.MockBGG) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "bgg.db")
	t.Setenv("BGG_BROWSE_URL", mock.BrowseURL())
	t.Setenv("BGG_API_URL", mock.APIURL())
	t.Setenv("BGG_DB_PATH", dbPath)
	t.Setenv("BGG_TOP_N", "5")
	t.Setenv("BGG_HTTP_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("REDIS_URL", "")
	t.Setenv("METRICS_ADDR", "")
	return dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestHealthEndpoint(t *testing.T) {
	tracker := ratelimit.NewTracker(nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	healthHandler(tracker)(w, req)

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Nil(t, body.CooldownUntil)
	assert.Zero(t, body.Throttles)
}

func TestHealthEndpoint_CoolingDown(t *testing.T) {
	tracker := ratelimit.NewTracker(nil, zerolog.Nop())
	require.NoError(t, tracker.UpdateFromResponse(context.Background(), http.StatusTooManyRequests,
		http.Header{"Retry-After": []string{"120"}}))

	w := httptest.NewRecorder()
	healthHandler(tracker)(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthResponse
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&body))
	assert.Equal(t, "cooling_down", body.Status)
	assert.NotNil(t, body.CooldownUntil)
	assert.Equal(t, int64(1), body.Throttles)
}

func TestMux_ServesMetrics(t *testing.T) {
	server := httptest.NewServer(newMux(ratelimit.NewTracker(nil, zerolog.Nop())))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "bgg_rate_limit_throttles_total")
}

func TestLookupTask(t *testing.T) {
	for _, name := range []string{"update_game_ids", "update_new_games", "update_all_games"} {
		got, err := lookupTask(name)
		require.NoError(t, err)
		assert.Equal(t, name, got.name)
	}

	_, err := lookupTask("__import__('os')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update_all_games, update_game_ids, update_new_games")
}

func TestRun_UnknownTask(t *testing.T) {
	mock := testutil.NewMockBGG()
	defer mock.Close()
	setupEnv(t, mock)

	_, err := execute(t, "run", "drop_tables")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown task "drop_tables"`)
	assert.Zero(t, mock.RequestCount("/"))
}

func TestRun_InvalidLogLevel(t *testing.T) {
	mock := testutil.NewMockBGG()
	defer mock.Close()
	setupEnv(t, mock)

	_, err := execute(t, "--log-level", "loud", "run", "update_game_ids")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
}

func TestRun_TasksEndToEnd(t *testing.T) {
	mock := testutil.NewMockBGG()
	defer mock.Close()
	setupEnv(t, mock)

	out, err := execute(t, "run", "update_game_ids")
	require.NoError(t, err)
	assert.Equal(t, "update_game_ids: 5 identifiers inserted\n", out)

	out, err = execute(t, "run", "update_game_ids")
	require.NoError(t, err)
	assert.Equal(t, "update_game_ids: 0 identifiers inserted\n", out)

	out, err = execute(t, "run", "update_new_games")
	require.NoError(t, err)
	assert.Equal(t, "update_new_games: 5 records saved\n", out)
	assert.Equal(t, 1, mock.RequestCount(testutil.APIPath+"/thing"))

	out, err = execute(t, "run", "update_new_games")
	require.NoError(t, err)
	assert.Equal(t, "update_new_games: 0 records saved\n", out)
	assert.Equal(t, 1, mock.RequestCount(testutil.APIPath+"/thing"))

	out, err = execute(t, "show", testutil.RankID(3))
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Game 100003"`)
	assert.Contains(t, out, `"min_age": 14`)
}

func TestSubcommands(t *testing.T) {
	mock := testutil.NewMockBGG()
	defer mock.Close()
	dbPath := setupEnv(t, mock)
	otherDB := filepath.Join(filepath.Dir(dbPath), "other.db")

	out, err := execute(t, "--db", otherDB, "ids", "--top", "3")
	require.NoError(t, err)
	assert.Equal(t, "inserted 3 identifiers\n", out)

	out, err = execute(t, "--db", otherDB, "details", "--new-only")
	require.NoError(t, err)
	assert.Equal(t, "saved 3 records\n", out)
	assert.Equal(t, "100001,100002,100003", mock.LastQuery("id"))

	_, err = execute(t, "show", testutil.RankID(1))
	assert.ErrorContains(t, err, "not found", "default database was never written")
}
