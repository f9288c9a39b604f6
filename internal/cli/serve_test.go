package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/questdeck-agent/config"
	"github.com/ngenohkevin/questdeck-agent/internal/logging"
	"github.com/ngenohkevin/questdeck-agent/internal/orchestrator"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.LoadWithDefaults()
	cfg.StateDir = t.TempDir()
	cfg.EnvFile = filepath.Join(t.TempDir(), ".env")
	return cfg
}

func TestBuild(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoRunCron = "@hourly"

	a, err := build(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer a.close()

	assert.NotNil(t, a.history)
	assert.NotNil(t, a.sched)
	assert.Nil(t, a.feed)
	assert.Equal(t, orchestrator.StateIdle, a.orch.Status().State)

	w := httptest.NewRecorder()
	a.server.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBuild_QuestFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.QuestSourceFile = filepath.Join(t.TempDir(), "quests.json")
	require.NoError(t, os.WriteFile(cfg.QuestSourceFile, []byte(`[{"id":"video-1","taskKind":"WATCH_VIDEO"}]`), 0600))

	a, err := build(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer a.close()
	require.NotNil(t, a.feed)

	req := httptest.NewRequest("GET", "/api/quests", nil)
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	w := httptest.NewRecorder()
	a.server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "video-1")
}

func TestBuild_InvalidCron(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoRunCron = "whenever"

	_, err := build(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestServe_StopsWithContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, serve(ctx, cfg, logging.Discard()))
}
