package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/questdeck-agent/config"
	"github.com/ngenohkevin/questdeck-agent/internal/activity"
	"github.com/ngenohkevin/questdeck-agent/internal/events"
	"github.com/ngenohkevin/questdeck-agent/internal/history"
	"github.com/ngenohkevin/questdeck-agent/internal/keys"
	"github.com/ngenohkevin/questdeck-agent/internal/logging"
	"github.com/ngenohkevin/questdeck-agent/internal/metrics"
	"github.com/ngenohkevin/questdeck-agent/internal/orchestrator"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
	"github.com/ngenohkevin/questdeck-agent/internal/source"
)

const testAPIKey = "test-api-key"

type fakeRunner struct {
	mu        sync.Mutex
	outcome   orchestrator.Outcome
	err       error
	calls     []string
	status    orchestrator.Status
	monitored map[string]bool
}

func (f *fakeRunner) Execute(ctx context.Context, taskID string) (orchestrator.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, taskID)
	outcome := f.outcome
	outcome.TaskID = taskID
	return outcome, f.err
}

func (f *fakeRunner) Cancel(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.monitored[taskID] {
		return false
	}
	delete(f.monitored, taskID)
	return true
}

func (f *fakeRunner) Status() orchestrator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeRunner) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeGames struct{}

func (fakeGames) List(ctx context.Context) ([]activity.Activity, error) {
	return []activity.Activity{{PID: 4242, Name: "Space Game", Synthetic: true}}, nil
}

func (fakeGames) FindByPID(ctx context.Context, pid int32) (activity.Activity, bool) {
	return activity.Activity{}, false
}

type testServer struct {
	srv     *Server
	cfg     *config.Config
	runner  *fakeRunner
	store   *source.Store
	bus     *events.Bus
	history *history.Store
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.LoadWithDefaults()
	cfg.APIKey = testAPIKey
	cfg.EnvFile = filepath.Join(t.TempDir(), ".env")
	for _, m := range mutate {
		m(cfg)
	}

	hist, err := history.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	ts := &testServer{
		cfg:     cfg,
		runner:  &fakeRunner{outcome: orchestrator.Outcome{RunID: "run-1", Success: true}, monitored: map[string]bool{}},
		store:   source.NewStore(0),
		bus:     events.NewBus(0),
		history: hist,
	}
	ts.srv = New(cfg, Deps{
		Runner:   ts.runner,
		Quests:   ts.store,
		Bridge:   ts.store,
		Bus:      ts.bus,
		History:  hist,
		Metrics:  metrics.New(),
		Activity: fakeGames{},
		Keys:     keys.NewManager(map[string]config.KeyCommand{"noop": {Name: "noop", Command: "true"}}),
		Logger:   logging.Discard(),
	})
	return ts
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthCheck_NoAuth(t *testing.T) {
	ts := newTestServer(t)

	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestAPI_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/status", "/api/quests", "/metrics", "/ws"} {
		w := httptest.NewRecorder()
		ts.srv.Router().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestListQuests(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("GET", "/api/quests", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no quest list received yet")
	assert.Equal(t, "PollingTransientError", decode[map[string]any](t, w)["code"])

	ts.store.Update([]quest.Task{
		{ID: "quest-123", Kind: quest.KindPlayOnDesktop, SecondsNeeded: 600},
		{ID: "video-1", Kind: quest.KindWatchVideo},
		{ID: "done", Kind: quest.KindWatchVideo, Completed: true},
	})

	w = ts.do("GET", "/api/quests", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[QuestList](t, w).Total)

	w = ts.do("GET", "/api/quests?eligible=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[QuestList](t, w)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "video-1", list.Quests[0].ID)
}

func TestExecuteQuest(t *testing.T) {
	ts := newTestServer(t)
	ts.runner.outcome = orchestrator.Outcome{RunID: "run-1", Success: true, SecondsNeeded: 600, Monitoring: true}

	w := ts.do("POST", "/api/quests/quest-123/execute", nil)
	require.Equal(t, http.StatusOK, w.Code)

	outcome := decode[orchestrator.Outcome](t, w)
	assert.Equal(t, "quest-123", outcome.TaskID)
	assert.Equal(t, 600, outcome.SecondsNeeded)
	assert.True(t, outcome.Monitoring)
	assert.Equal(t, []string{"quest-123"}, ts.runner.executed())
}

func TestExecuteQuest_ErrorStatus(t *testing.T) {
	tests := []struct {
		kind   error
		status int
		code   string
	}{
		{quest.ErrNotFound, http.StatusNotFound, "NotFound"},
		{quest.ErrEnvironmentUnsupported, http.StatusConflict, "EnvironmentUnsupported"},
		{quest.ErrInjectionFailed, http.StatusBadGateway, "InjectionFailed"},
		{quest.ErrTimeout, http.StatusGatewayTimeout, "Timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ts := newTestServer(t)
			ts.runner.err = quest.NewError(tt.kind, "quest-999", "failed", nil)
			ts.runner.outcome = orchestrator.Outcome{Error: tt.code}

			w := ts.do("POST", "/api/quests/quest-999/execute", nil)
			assert.Equal(t, tt.status, w.Code)

			body := decode[map[string]any](t, w)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
			assert.NotNil(t, body["outcome"])
		})
	}
}

func TestExecuteAll(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("POST", "/api/execute", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool {
		calls := ts.runner.executed()
		return len(calls) == 1 && calls[0] == ""
	}, time.Second, 5*time.Millisecond)

	ts.runner.mu.Lock()
	ts.runner.status = orchestrator.Status{State: orchestrator.StateMonitoring, InFlight: true, TaskID: "quest-123"}
	ts.runner.mu.Unlock()

	w = ts.do("POST", "/api/execute", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProgressAndCancel(t *testing.T) {
	ts := newTestServer(t)
	ts.runner.status = orchestrator.Status{
		State:     orchestrator.StateMonitoring,
		InFlight:  true,
		Snapshots: []quest.Snapshot{{TaskID: "quest-123", SecondsNeeded: 600, SecondsDone: 40}},
	}
	ts.runner.monitored["quest-123"] = true

	w := ts.do("GET", "/api/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"secondsDone":40`)

	w = ts.do("DELETE", "/api/progress/quest-123", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do("DELETE", "/api/progress/quest-123", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do("GET", "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, orchestrator.StateMonitoring, decode[orchestrator.Status](t, w).State)
}

func TestGetLogs(t *testing.T) {
	ts := newTestServer(t)
	ts.bus.Info("one")
	ts.bus.Error("two")
	ts.bus.Info("three")

	w := ts.do("GET", "/api/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode[map[string]any](t, w)["total"])

	w = ts.do("GET", "/api/logs?level=info&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Logs []events.LogEvent `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Logs, 1)
	assert.Equal(t, "three", body.Logs[0].Message)
}

func TestHistoryAndStats(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.history.InsertRun(ctx, &history.Run{ID: "run-1", TaskID: "video-1", Kind: string(quest.KindWatchVideo)}))
	require.NoError(t, ts.history.FinishRun(ctx, "run-1", history.StatusCompleted, 30, ""))

	w := ts.do("GET", "/api/history?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["total"])

	w = ts.do("GET", "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[history.Stats](t, w)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 30, stats.TotalSeconds)
}

func TestListGamesAndKeys(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("GET", "/api/games", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Space Game")

	w = ts.do("GET", "/api/keys", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[keys.ComboList](t, w).Total)

	w = ts.do("POST", "/api/keys/noop/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[keys.Result](t, w).Success)

	w = ts.do("POST", "/api/keys/missing/run", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "questdeck_runs_in_flight")
}

func TestIssueToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("POST", "/api/token", map[string]any{"role": "observer", "ttl_minutes": 5})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode[map[string]any](t, w)["token"].(string)

	req := httptest.NewRequest("GET", "/api/status?token="+token, nil)
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetupMode(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.SetupMode = true
	})

	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/setup", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Questdeck Agent")

	w = httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/setup/generate", nil))
	require.Equal(t, http.StatusOK, w.Code)
	key := decode[map[string]any](t, w)["api_key"].(string)
	assert.Len(t, key, 64)

	req := httptest.NewRequest("POST", "/setup/save", strings.NewReader(`{"api_key":"short"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest("POST", "/setup/save", strings.NewReader(`{"api_key":"`+key+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	data, err := os.ReadFile(ts.cfg.EnvFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "API_KEY="+key)
	assert.True(t, ts.cfg.SetupMode, "running config is unchanged until restart")
}

func TestSetupRoutesHiddenOutsideSetupMode(t *testing.T) {
	ts := newTestServer(t)

	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/setup", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateSettings(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("PUT", "/api/settings", map[string]any{"host_mode": "mainframe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, config.HostModeDesktop, ts.cfg.HostMode)

	w = ts.do("PUT", "/api/settings", map[string]any{
		"host_mode":                   "browser",
		"recalibration_slack_seconds": 8,
	})
	require.Equal(t, http.StatusOK, w.Code)
	// the running config applies saved settings only after a restart
	assert.Equal(t, config.HostModeDesktop, ts.cfg.HostMode)
	assert.Equal(t, 5, ts.cfg.RecalibrationSlack)

	data, err := os.ReadFile(ts.cfg.EnvFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "HOST_MODE=browser")
	assert.Contains(t, string(data), "RECALIBRATION_SLACK_SECONDS=8")

	w = ts.do("GET", "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "browser", body["host_mode"])
	assert.Equal(t, float64(8), body["recalibration_slack_seconds"])
	assert.Equal(t, true, body["api_key_configured"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(quest.ErrPollingTransient))
	assert.Equal(t, http.StatusNotFound, statusFor(quest.NewError(quest.ErrNotFound, "q", "", nil)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("other")))
}

func TestUpdateSettings_ConcurrentReaders(t *testing.T) {
	ts := newTestServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			mode := config.HostModeDesktop
			if i%2 == 0 {
				mode = config.HostModeBrowser
			}
			w := ts.do("PUT", "/api/settings", map[string]any{"host_mode": mode})
			assert.Equal(t, http.StatusOK, w.Code)
		}(i)
		go func() {
			defer wg.Done()
			assert.Equal(t, http.StatusOK, ts.do("GET", "/api/settings", nil).Code)
		}()
		go func() {
			defer wg.Done()
			// reads the running config for the environment report
			ts.do("GET", "/api/info", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, config.HostModeDesktop, ts.cfg.HostMode)
}
