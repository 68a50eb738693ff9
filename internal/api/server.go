// Package api provides the admin HTTP API of the importer.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/video-importer/internal/adapter"
	"github.com/video-importer/internal/job"
	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/models"
	"github.com/video-importer/internal/ratelimit"
	"github.com/video-importer/internal/types"
)

// Service interfaces for dependency injection and testing

// QueueService submits and inspects import jobs. job.Queue implements it.
type QueueService interface {
	Submit(ctx context.Context, input string, origin types.Origin) (*models.ImportJob, error)
	SubmitBatch(ctx context.Context, inputs []string, origin types.Origin) []job.SubmitResult
	ImportChannel(ctx context.Context, lister job.ChannelLister, channel string, maxResults int) ([]job.SubmitResult, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
	Recent(ctx context.Context, limit int) ([]*models.ImportJob, error)
	RemoveVideo(ctx context.Context, videoID string) (bool, error)
}

// TickService runs one processing tick on demand. job.Processor implements it.
type TickService interface {
	ProcessTick(ctx context.Context) (*job.TickResult, error)
}

// RefreshService runs one metadata refresh pass. job.Refresher implements it.
type RefreshService interface {
	RefreshAll(ctx context.Context) (*job.RefreshResult, error)
}

// FeedService polls channel feeds and reports their counters.
// job.FeedPoller implements it.
type FeedService interface {
	PollAll(ctx context.Context) (*job.FeedPollResult, error)
	Stats() job.FeedStats
}

// VendorService is the vendor surface exposed to admins.
// adapter.VendorClient implements it.
type VendorService interface {
	HealthCheck(ctx context.Context) (bool, error)
	GetCredits(ctx context.Context) (map[string]interface{}, error)
	GetLicenseInfo(ctx context.Context) (*adapter.LicenseInfo, error)
	LicenseState() adapter.LicenseState
	ActivateLicense(ctx context.Context, key, siteURL, siteName string) (*adapter.LicenseInfo, error)
	DeactivateLicense(ctx context.Context) string
	TestConnection(ctx context.Context) *adapter.ConnectionReport
	Metrics() *adapter.Metrics
}

// QuotaService reports the YouTube quota of the day.
// ratelimit.QuotaTracker implements it.
type QuotaService interface {
	Usage(ctx context.Context) (*ratelimit.QuotaUsage, error)
}

// Dependencies are the services the API routes to. Channels, Feeds and Quota
// are optional.
type Dependencies struct {
	Queue     QueueService
	Processor TickService
	Refresher RefreshService
	Vendor    VendorService
	Channels  job.ChannelLister
	Feeds     FeedService
	Quota     QuotaService
	Logger    *logging.Logger
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies
	config     *ServerConfig
	startedAt  time.Time
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
	JWTSecret       string
	SiteURL         string
	SiteName        string
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:    mux.NewRouter(),
		deps:      deps,
		config:    config,
		startedAt: time.Now(),
	}

	s.setupRouter()

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.deps.Logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(AuthMiddleware(s.config.JWTSecret))

	// Jobs
	api.HandleFunc("/jobs", s.handleSubmitJob).Methods("POST")
	api.HandleFunc("/jobs/batch", s.handleSubmitBatch).Methods("POST")
	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/stats", s.handleJobStats).Methods("GET")
	api.HandleFunc("/channels/import", s.handleImportChannel).Methods("POST")

	// Queue control
	api.HandleFunc("/queue/process", s.handleProcessQueue).Methods("POST")
	api.HandleFunc("/queue/refresh", s.handleRefresh).Methods("POST")

	// Channel feeds
	api.HandleFunc("/feeds/poll", s.handleFeedPoll).Methods("POST")
	api.HandleFunc("/feeds/stats", s.handleFeedStats).Methods("GET")

	// Published records
	api.HandleFunc("/videos/{videoId}", s.handleRemoveVideo).Methods("DELETE")

	// Vendor
	api.HandleFunc("/vendor/health", s.handleVendorHealth).Methods("GET")
	api.HandleFunc("/vendor/credits", s.handleVendorCredits).Methods("GET")
	api.HandleFunc("/vendor/license", s.handleLicense).Methods("GET")
	api.HandleFunc("/vendor/license/activate", s.handleActivateLicense).Methods("POST")
	api.HandleFunc("/vendor/license/deactivate", s.handleDeactivateLicense).Methods("POST")
	api.HandleFunc("/vendor/connection", s.handleTestConnection).Methods("GET")
	api.HandleFunc("/vendor/metrics", s.handleVendorMetrics).Methods("GET")

	// YouTube
	api.HandleFunc("/youtube/quota", s.handleYouTubeQuota).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "video-importer",
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.deps.Logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
