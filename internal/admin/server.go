package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/ktime/internal/quota"
	"github.com/rs/zerolog"
)

// Config holds admin server configuration
type Config struct {
	ListenAddr string
}

// Controller is the part of the engine the control API drives.
type Controller interface {
	Overview(ctx context.Context) (quota.SessionState, quota.Availability)
	PauseAvailability(ctx context.Context) quota.Availability
	TodayStats(ctx context.Context) quota.DayStats
	Settings() quota.Settings
	History(ctx context.Context, date string) (quota.DayStats, error)
	HistoryDates(ctx context.Context) ([]string, error)

	RequestPause(ctx context.Context) (quota.Result, error)
	RequestResume(ctx context.Context) (quota.Result, error)
	RequestExtend(ctx context.Context, minutes int, code string) (quota.Result, error)
	RequestUnlock(ctx context.Context, code string) (quota.Result, error)
	RequestReset(ctx context.Context, code string) (quota.Result, error)
	UpdateSettings(ctx context.Context, s quota.Settings, code string) (quota.Result, error)
	ChangePasscode(ctx context.Context, current, code, confirm string) (quota.Result, error)
}

// Server is the local control API.
type Server struct {
	config   Config
	engine   Controller
	router   *gin.Engine
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a new admin server.
func NewServer(cfg Config, engine Controller, logger zerolog.Logger) *Server {
	if logger.GetLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: cfg,
		engine: engine,
		logger: logger.With().Str("component", "admin").Logger(),
	}

	// No default middleware, requests are logged through zerolog
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(s.logger))
	router.Use(MetricsMiddleware())
	s.router = router
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "OK")
	})

	api := s.router.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/stats", s.getStats)
	api.GET("/pause", s.getPause)
	api.GET("/history", s.listHistory)
	api.GET("/history/:date", s.getHistory)
	api.GET("/settings", s.getSettings)

	api.POST("/pause", s.postPause)
	api.POST("/resume", s.postResume)
	api.POST("/extend", s.postExtend)
	api.POST("/unlock", s.postUnlock)
	api.POST("/reset", s.postReset)
	api.PUT("/settings", s.putSettings)
	api.POST("/passcode", s.postPasscode)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener (for systemd socket activation)
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the admin server.
func (s *Server) Start() error {
	if s.listener != nil {
		s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting admin server (socket-activated)")
	} else {
		s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting admin server")
	}

	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Admin server failed")
		}
	}()
	return nil
}

// Stop gracefully stops the admin server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info().Msg("Stopping admin server")
	return s.server.Shutdown(ctx)
}
