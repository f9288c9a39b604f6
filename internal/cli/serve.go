package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ngenohkevin/questdeck-agent/config"
	"github.com/ngenohkevin/questdeck-agent/internal/activity"
	"github.com/ngenohkevin/questdeck-agent/internal/events"
	"github.com/ngenohkevin/questdeck-agent/internal/history"
	"github.com/ngenohkevin/questdeck-agent/internal/inject"
	"github.com/ngenohkevin/questdeck-agent/internal/keys"
	"github.com/ngenohkevin/questdeck-agent/internal/logging"
	"github.com/ngenohkevin/questdeck-agent/internal/metrics"
	"github.com/ngenohkevin/questdeck-agent/internal/monitor"
	"github.com/ngenohkevin/questdeck-agent/internal/orchestrator"
	"github.com/ngenohkevin/questdeck-agent/internal/process"
	"github.com/ngenohkevin/questdeck-agent/internal/schedule"
	"github.com/ngenohkevin/questdeck-agent/internal/server"
	"github.com/ngenohkevin/questdeck-agent/internal/source"
)

const (
	restoreTimeout = 10 * time.Second
	listCacheTTL   = 2 * time.Second
)

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// agent is every long-lived component of a serving agent
type agent struct {
	orch    *orchestrator.Orchestrator
	server  *server.Server
	history *history.Store
	cache   *source.Cached
	sched   *schedule.Scheduler
	feed    *source.FileFeed
}

// build wires the agent from cfg
func build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*agent, error) {
	bus := events.NewBus(0)
	m := metrics.New()

	bridge := source.NewStore(cfg.QuestStaleAfter)
	var truth source.Source = bridge
	if cfg.QuestSourceURL != "" {
		truth = source.NewHTTP(cfg.QuestSourceURL, cfg.QuestSourceToken, cfg.ResponseTimeout)
		logger.WithField("url", cfg.QuestSourceURL).Info("reading quests over HTTP")
	}

	var feed *source.FileFeed
	if cfg.QuestSourceFile != "" {
		feed = source.NewFileFeed(cfg.QuestSourceFile, bridge, logger)
		if err := feed.Load(); err != nil {
			logger.WithError(err).Warn("quest file not loaded yet")
		}
	}

	procs := process.NewManager(cfg.GameExecutables)
	keyMgr := keys.NewManager(cfg.KeyCommands)
	provider := inject.New(cfg, keyMgr, procs, logger)

	cell := activity.NewCell(activity.NewHostProvider(procs))
	spoofer := activity.NewSpoofer(cell, inject.NewNotifier(provider), logger)

	mon := monitor.New(truth, bus, logger, monitor.Options{
		Interval: cfg.PollInterval,
		Slack:    cfg.RecalibrationSlack,
		Recorder: m,
	})

	a := &agent{cache: source.NewCached(truth, listCacheTTL), feed: feed}
	deps := orchestrator.Deps{
		Source:   truth,
		Provider: provider,
		Spoofer:  spoofer,
		Monitor:  mon,
		Bus:      bus,
		Recorder: m,
		Logger:   logger,
	}
	serverDeps := server.Deps{
		Quests:    a.cache,
		Bridge:    bridge,
		Bus:       bus,
		Metrics:   m,
		Activity:  cell,
		Processes: procs,
		Keys:      keyMgr,
		Logger:    logger,
	}

	store, err := history.Open(ctx, cfg.StateDir)
	if err != nil {
		logger.WithError(err).Warn("run history disabled")
	} else {
		a.history = store
		deps.History = store
		serverDeps.History = store
	}

	orch, err := orchestrator.New(deps, orchestrator.Options{
		SpoofingSupported: cfg.SpoofingSupported(),
		ResponseTimeout:   cfg.ResponseTimeout,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.orch = orch
	serverDeps.Runner = orch
	a.server = server.New(cfg, serverDeps)

	if cfg.AutoRunCron != "" {
		sched, err := schedule.New(cfg.AutoRunCron, orch, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.sched = sched
	}

	return a, nil
}

func (a *agent) close() {
	a.cache.Close()
	if a.history != nil {
		_ = a.history.Close()
	}
}

// serve runs the agent until ctx ends, then restores any spoofed activity before returning
func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if a.sched != nil {
		a.sched.Start(ctx)
		defer a.sched.Stop()
	}

	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil {
				logger.WithError(err).Error("quest file watcher stopped")
			}
		}()
	}

	serveErr := a.server.Run(ctx)

	restoreCtx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	if err := a.orch.Shutdown(restoreCtx); err != nil {
		logger.WithError(err).Error("failed to restore activity")
	}
	if err := a.orch.Wait(restoreCtx); err != nil {
		logger.WithError(err).Warn("run did not finish before exit")
	}

	return serveErr
}
