package server

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/ngenohkevin/questdeck-agent/config"
)

// minAPIKeyLength is the shortest API key accepted by the setup endpoints
const minAPIKeyLength = 32

// SetupHandlers serves first-run setup and the settings endpoints. Saved settings go to the .env
// file and a private copy; the running components keep the config they were built with.
type SetupHandlers struct {
	mu       sync.RWMutex
	settings config.Config
}

// NewSetupHandlers creates setup handlers
func NewSetupHandlers(cfg *config.Config) *SetupHandlers {
	return &SetupHandlers{settings: *cfg}
}

// SetupPage serves the setup page (setup mode only, no auth)
func (h *SetupHandlers) SetupPage(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, setupPageHTML)
}

// GetSettings returns the saved settings without secrets
func (h *SetupHandlers) GetSettings(c *gin.Context) {
	h.mu.RLock()
	cfg := h.settings
	h.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"port":                        cfg.Port,
		"host":                        cfg.Host,
		"allowed_origins":             cfg.AllowedOrigins,
		"log_level":                   cfg.LogLevel,
		"rate_limit_rps":              cfg.RateLimitRPS,
		"host_mode":                   cfg.HostMode,
		"injection_strategy":          cfg.InjectionStrategy,
		"target_process":              cfg.TargetProcess,
		"game_executables":            cfg.GameExecutables,
		"poll_interval_seconds":       int(cfg.PollInterval.Seconds()),
		"recalibration_slack_seconds": cfg.RecalibrationSlack,
		"auto_run_cron":               cfg.AutoRunCron,
		"env_file":                    cfg.EnvFile,
		"setup_mode":                  cfg.SetupMode,
		"api_key_configured":          cfg.APIKey != "",
	})
}

// GenerateKey returns a fresh random API key without saving it
func (h *SetupHandlers) GenerateKey(c *gin.Context) {
	apiKey, err := config.GenerateAPIKey()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate API key: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_key": apiKey})
}

// SaveKey persists an API key to the .env file
func (h *SetupHandlers) SaveKey(c *gin.Context) {
	var req struct {
		APIKey string `json:"api_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}
	if len(req.APIKey) < minAPIKeyLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API key must be at least 32 characters"})
		return
	}

	h.mu.Lock()
	err := h.settings.SaveAPIKey(req.APIKey)
	envFile := h.settings.EnvFile
	h.mu.Unlock()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save API key: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "API key saved",
		"env_file": envFile,
		"note":     "restart the agent to enable authentication with the new key",
	})
}

// UpdateSettings changes host integration settings and writes them to the .env file
func (h *SetupHandlers) UpdateSettings(c *gin.Context) {
	var req struct {
		HostMode           string   `json:"host_mode"`
		InjectionStrategy  string   `json:"injection_strategy"`
		GameExecutables    []string `json:"game_executables"`
		RecalibrationSlack *int     `json:"recalibration_slack_seconds"`
		AutoRunCron        *string  `json:"auto_run_cron"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.settings
	updates := make(map[string]string)

	if req.HostMode != "" {
		next.HostMode = strings.ToLower(req.HostMode)
		updates["HOST_MODE"] = next.HostMode
	}
	if req.InjectionStrategy != "" {
		next.InjectionStrategy = strings.ToLower(req.InjectionStrategy)
		updates["INJECTION_STRATEGY"] = next.InjectionStrategy
	}
	if len(req.GameExecutables) > 0 {
		next.GameExecutables = req.GameExecutables
		updates["GAME_EXECUTABLES"] = strings.Join(req.GameExecutables, ",")
	}
	if req.RecalibrationSlack != nil {
		next.RecalibrationSlack = *req.RecalibrationSlack
		updates["RECALIBRATION_SLACK_SECONDS"] = strconv.Itoa(*req.RecalibrationSlack)
	}
	if req.AutoRunCron != nil {
		next.AutoRunCron = *req.AutoRunCron
		updates["AUTO_RUN_CRON"] = *req.AutoRunCron
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings to update"})
		return
	}
	if err := next.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := config.UpdateEnvFile(next.EnvFile, updates); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings: " + err.Error()})
		return
	}
	h.settings = next

	c.JSON(http.StatusOK, gin.H{
		"message": "settings updated",
		"updated": len(updates),
		"note":    "host integration settings apply after restart",
	})
}

const setupPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Questdeck Agent Setup</title>
<style>
  body { font-family: system-ui, sans-serif; background: #111827; color: #e5e7eb; display: flex; justify-content: center; padding: 48px 16px; }
  main { background: #1f2937; border-radius: 12px; padding: 32px; max-width: 520px; width: 100%; }
  h1 { margin-top: 0; font-size: 22px; }
  code { display: block; background: #111827; padding: 12px; border-radius: 8px; word-break: break-all; min-height: 20px; }
  button { background: #6366f1; color: white; border: 0; border-radius: 8px; padding: 10px 16px; margin-right: 8px; cursor: pointer; }
  p.status { color: #9ca3af; font-size: 14px; }
</style>
</head>
<body>
<main>
  <h1>Questdeck Agent</h1>
  <p>No API key is configured. Generate one, save it, then restart the agent.</p>
  <code id="key"></code>
  <p>
    <button id="generate">Generate key</button>
    <button id="save" disabled>Save key</button>
  </p>
  <p class="status" id="status"></p>
</main>
<script>
  const keyEl = document.getElementById('key');
  const statusEl = document.getElementById('status');
  const saveBtn = document.getElementById('save');

  document.getElementById('generate').onclick = async () => {
    const res = await fetch('/setup/generate', { method: 'POST' });
    const body = await res.json();
    keyEl.textContent = body.api_key || '';
    saveBtn.disabled = !body.api_key;
    statusEl.textContent = body.error || 'Copy this key into your client before saving.';
  };

  saveBtn.onclick = async () => {
    const res = await fetch('/setup/save', {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify({ api_key: keyEl.textContent }),
    });
    const body = await res.json();
    statusEl.textContent = body.error || (body.message + '. ' + body.note);
  };
</script>
</body>
</html>
`
