package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ngenohkevin/questdeck-agent/config"
)

const shutdownTimeout = 10 * time.Second

// Server is the local control endpoint
type Server struct {
	cfg           *config.Config
	router        *gin.Engine
	handlers      *Handlers
	setupHandlers *SetupHandlers
	hub           *Hub
	auth          *AuthService
	limiter       *RateLimiter
	metrics       http.Handler
	logger        logrus.FieldLogger
	httpServer    *http.Server
}

// New creates the server and registers its routes
func New(cfg *config.Config, deps Deps) *Server {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	auth := NewAuthService(cfg.APIKey, cfg.JWTSecret)

	s := &Server{
		cfg:           cfg,
		router:        gin.New(),
		handlers:      NewHandlers(cfg, deps, auth),
		setupHandlers: NewSetupHandlers(cfg),
		hub:           NewHub(deps, cfg.AllowedOrigins),
		auth:          auth,
		limiter:       NewRateLimiter(cfg.RateLimitRPS),
		logger:        deps.Logger.WithField("component", "server"),
	}
	if deps.Metrics != nil {
		s.metrics = deps.Metrics.Handler()
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(RateLimitMiddleware(s.limiter))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handlers.HealthCheck)

	if s.cfg.SetupMode {
		setup := s.router.Group("/setup")
		{
			setup.GET("", s.setupHandlers.SetupPage)
			setup.POST("/generate", s.setupHandlers.GenerateKey)
			setup.POST("/save", s.setupHandlers.SaveKey)
		}
	}

	authenticated := AuthMiddleware(s.auth)

	// Duplex channel; browsers pass the token as a query parameter
	s.router.GET("/ws", authenticated, s.hub.ServeWS)

	if s.metrics != nil {
		s.router.GET("/metrics", authenticated, gin.WrapH(s.metrics))
	}

	api := s.router.Group("/api")
	api.Use(authenticated)
	{
		api.GET("/info", s.handlers.GetInfo)
		api.POST("/token", s.handlers.IssueToken)

		// Quests
		api.GET("/quests", s.handlers.ListQuests)
		api.POST("/quests/:id/execute", s.handlers.ExecuteQuest)
		api.POST("/execute", s.handlers.ExecuteAll)

		// Runs
		api.GET("/status", s.handlers.GetStatus)
		api.GET("/progress", s.handlers.GetProgress)
		api.DELETE("/progress/:id", s.handlers.CancelProgress)
		api.GET("/history", s.handlers.GetHistory)
		api.GET("/stats", s.handlers.GetStats)

		// Observers
		api.GET("/logs", s.handlers.GetLogs)
		api.GET("/events", s.handlers.StreamEvents)

		// Host integration
		api.GET("/games", s.handlers.ListGames)
		api.GET("/keys", s.handlers.ListKeys)
		api.POST("/keys/:name/run", s.handlers.RunKey)

		// Settings
		api.GET("/settings", s.setupHandlers.GetSettings)
		api.PUT("/settings", s.setupHandlers.UpdateSettings)
		api.POST("/settings/generate-key", s.setupHandlers.GenerateKey)
		api.POST("/settings/api-key", s.setupHandlers.SaveKey)
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("server forced to shut down")
		}
	}()

	s.logger.WithField("addr", s.cfg.Addr()).Info("starting questdeck agent")
	if s.cfg.SetupMode {
		s.logger.Warnf("no API key configured, open http://%s/setup to create one", s.cfg.Addr())
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin engine (for tests)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the channel hub
func (s *Server) Hub() *Hub {
	return s.hub
}
