package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ngenohkevin/questdeck-agent/config"
	"github.com/ngenohkevin/questdeck-agent/internal/events"
	"github.com/ngenohkevin/questdeck-agent/internal/keys"
	"github.com/ngenohkevin/questdeck-agent/internal/orchestrator"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
	"github.com/ngenohkevin/questdeck-agent/internal/system"
)

// keyComboTimeout bounds a key combo run from the API
const keyComboTimeout = 30 * time.Second

// Handlers holds the REST handlers
type Handlers struct {
	cfg    *config.Config
	deps   Deps
	auth   *AuthService
	logger logrus.FieldLogger
}

// NewHandlers creates the REST handlers
func NewHandlers(cfg *config.Config, deps Deps, auth *AuthService) *Handlers {
	return &Handlers{
		cfg:    cfg,
		deps:   deps,
		auth:   auth,
		logger: deps.Logger.WithField("component", "api"),
	}
}

// statusFor maps the failure taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch quest.Classify(err) {
	case quest.ErrNotFound:
		return http.StatusNotFound
	case quest.ErrEnvironmentUnsupported:
		return http.StatusConflict
	case quest.ErrInjectionFailed:
		return http.StatusBadGateway
	case quest.ErrTimeout:
		return http.StatusGatewayTimeout
	case quest.ErrPollingTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": quest.Code(err)})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	})
}

// GetInfo handles GET /api/info
func (h *Handlers) GetInfo(c *gin.Context) {
	ctx := c.Request.Context()

	hostInfo, err := system.GetHostInfo(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var finder system.ProcessFinder
	if h.deps.Processes != nil {
		finder = h.deps.Processes
	}

	c.JSON(http.StatusOK, gin.H{
		"hostname":    hostInfo.Hostname,
		"os":          hostInfo.OS,
		"platform":    hostInfo.Platform,
		"uptime":      hostInfo.UptimeHuman,
		"agent":       "questdeck-agent",
		"version":     Version,
		"environment": system.CheckEnvironment(ctx, h.cfg, finder),
	})
}

// ListQuests handles GET /api/quests. ?eligible=true limits the list to what a batch run would drive.
func (h *Handlers) ListQuests(c *gin.Context) {
	tasks, err := h.deps.Quests.ListTasks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("eligible") == "true" {
		tasks = orchestrator.Eligible(tasks, time.Now())
	}
	if tasks == nil {
		tasks = []quest.Task{}
	}
	c.JSON(http.StatusOK, QuestList{Quests: tasks, Total: len(tasks)})
}

// ExecuteQuest handles POST /api/quests/:id/execute
func (h *Handlers) ExecuteQuest(c *gin.Context) {
	id := c.Param("id")

	// The run outlives the request for time-gated quests
	ctx := context.WithoutCancel(c.Request.Context())
	outcome, err := h.deps.Runner.Execute(ctx, id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   err.Error(),
			"code":    quest.Code(err),
			"outcome": outcome,
		})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// ExecuteAll handles POST /api/execute: starts a batch run over every eligible quest
func (h *Handlers) ExecuteAll(c *gin.Context) {
	status := h.deps.Runner.Status()
	if status.InFlight {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "quest execution already in progress",
			"status": status,
		})
		return
	}

	go func() {
		outcome, err := h.deps.Runner.Execute(context.Background(), "")
		if err != nil {
			h.logger.WithError(err).Warn("batch run failed")
			return
		}
		h.logger.WithField("result", outcome.Message).Info("batch run finished")
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "batch run started"})
}

// GetProgress handles GET /api/progress
func (h *Handlers) GetProgress(c *gin.Context) {
	snapshots := h.deps.Runner.Status().Snapshots
	if snapshots == nil {
		snapshots = []quest.Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots, "total": len(snapshots)})
}

// CancelProgress handles DELETE /api/progress/:id
func (h *Handlers) CancelProgress(c *gin.Context) {
	id := c.Param("id")
	if !h.deps.Runner.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest is not being monitored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "monitoring cancelled", "quest_id": id})
}

// GetStatus handles GET /api/status
func (h *Handlers) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Runner.Status())
}

// GetLogs handles GET /api/logs?level=&limit=
func (h *Handlers) GetLogs(c *gin.Context) {
	logs := h.deps.Bus.Logs()

	if level := c.Query("level"); level != "" {
		filtered := logs[:0]
		for _, l := range logs {
			if string(l.Level) == level {
				filtered = append(filtered, l)
			}
		}
		logs = filtered
	}

	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(logs) {
		logs = logs[len(logs)-limit:]
	}
	if logs == nil {
		logs = []events.LogEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": len(logs)})
}

// GetHistory handles GET /api/history?limit=
func (h *Handlers) GetHistory(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}

	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}

	runs, err := h.deps.History.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

// GetStats handles GET /api/stats
func (h *Handlers) GetStats(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}

	stats, err := h.deps.History.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListGames handles GET /api/games: what the host currently sees as running games
func (h *Handlers) ListGames(c *gin.Context) {
	if h.deps.Activity == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "activity provider unavailable"})
		return
	}

	games, err := h.deps.Activity.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games, "total": len(games)})
}

// ListKeys handles GET /api/keys
func (h *Handlers) ListKeys(c *gin.Context) {
	if h.deps.Keys == nil {
		c.JSON(http.StatusOK, keys.ComboList{Combos: []keys.Combo{}})
		return
	}
	c.JSON(http.StatusOK, h.deps.Keys.List())
}

// RunKey handles POST /api/keys/:name/run
func (h *Handlers) RunKey(c *gin.Context) {
	name := c.Param("name")
	if h.deps.Keys == nil || !h.deps.Keys.Exists(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown key combo: " + name})
		return
	}

	result, err := h.deps.Keys.RunWithTimeout(c.Request.Context(), name, keyComboTimeout)
	if err != nil {
		if errors.Is(err, keys.ErrUnknownCombo) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// IssueToken handles POST /api/token: a short-lived token for observers that cannot hold the API key
func (h *Handlers) IssueToken(c *gin.Context) {
	var req struct {
		Role       string `json:"role"`
		TTLMinutes int    `json:"ttl_minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Role == "" {
		req.Role = "observer"
	}
	if req.TTLMinutes <= 0 {
		req.TTLMinutes = 60
	}

	ttl := time.Duration(req.TTLMinutes) * time.Minute
	token, err := h.auth.GenerateToken(req.Role, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "role": req.Role, "expires_in": int(ttl.Seconds())})
}

// StreamEvents handles GET /api/events (SSE)
func (h *Handlers) StreamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch, cancel := h.deps.Bus.Subscribe(64)
	defer cancel()

	ctx := c.Request.Context()
	c.SSEvent(string(events.TypeStatus), h.deps.Runner.Status())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
