package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/glefebvre/episodebot/internal/config"
	"github.com/glefebvre/episodebot/internal/logger"
	"github.com/glefebvre/episodebot/internal/models"
	"github.com/glefebvre/episodebot/internal/scheduler"
	"github.com/glefebvre/episodebot/internal/tracker"
)

// LedgerReader exposes the episode ledger
type LedgerReader interface {
	Get(ctx context.Context, title string) (models.EpisodeRecord, error)
	List(ctx context.Context) ([]models.EpisodeRecord, error)
}

// HistoryReader exposes the run history
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]models.ReleaseLog, error)
	ForTitle(ctx context.Context, title string, limit int) ([]models.ReleaseLog, error)
}

// Releases reports in-flight runs
type Releases interface {
	Active() []tracker.Snapshot
	Running(title string) bool
}

// Trigger starts configured releases on demand
type Trigger interface {
	Job(title string) (config.JobConfig, bool)
	Trigger(title string) bool
	Entries() []scheduler.Entry
}

// Deps are the services behind the API
type Deps struct {
	Health    func() error
	Ledger    LedgerReader
	History   HistoryReader
	Releases  Releases
	Scheduler Trigger
}

// Server represents the API server
type Server struct {
	router *gin.Engine
	deps   Deps
	logger *logger.Logger
	http   *http.Server
}

// NewServer creates a new API server instance
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	log := logger.AppLogger()

	router := gin.New()
	router.Use(errorHandlerMiddleware(log))
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(log))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "X-Request-ID"},
		ExposeHeaders:   []string{"X-Request-ID"},
		MaxAge:          12 * time.Hour,
	}))

	s := &Server{
		router: router,
		deps:   deps,
		logger: log,
	}

	s.setupRoutes()

	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the API server on the specified port and blocks until
// Shutdown is called
func (s *Server) Run(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithFields(map[string]interface{}{
		"port": port,
	}).Info("API server listening")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.healthCheck)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		// Ledger endpoints
		v1.GET("/ledger", s.listLedger)
		v1.GET("/ledger/:title", s.getLedger)

		// Release endpoints
		v1.GET("/releases", s.listReleases)
		v1.GET("/releases/active", s.activeReleases)
		v1.POST("/releases/:title", s.triggerRelease)

		// Schedule
		v1.GET("/schedule", s.listSchedule)
	}
}
