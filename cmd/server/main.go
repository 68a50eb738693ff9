// Package main provides the API server and queue worker entry point of the
// video importer.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/video-importer/internal/adapter"
	"github.com/video-importer/internal/api"
	"github.com/video-importer/internal/circuitbreaker"
	"github.com/video-importer/internal/config"
	"github.com/video-importer/internal/job"
	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/metadata"
	"github.com/video-importer/internal/ratelimit"
	"github.com/video-importer/internal/service"
	"github.com/video-importer/internal/storage"
	"github.com/video-importer/internal/worker"
)

func main() {
	fmt.Println("Video Importer")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer logger.Sync()

	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	// Databases
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	if cfg.Database.AutoMigrate {
		if err := storage.RunMigrations(cfg.Database.Postgres.URL(), cfg.Database.MigrationsPath); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
		logger.Info("Migrations applied")
	}

	redis, err := storage.NewRedisCache(ctx, &cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	cacheService := storage.NewCacheService(redis, cfg.Vendor.CacheTTL)
	jobRepo := storage.NewJobRepository(postgres)
	recordRepo := storage.NewVideoRecordRepository(postgres)

	// Vendor client behind the circuit breaker
	breakerOpts := []circuitbreaker.Option{}
	if cfg.Breaker.Shared {
		breakerOpts = append(breakerOpts, circuitbreaker.WithStore(circuitbreaker.NewRedisStore(redis.Client(), "vendor")))
	}
	breaker := circuitbreaker.NewBreaker(&circuitbreaker.Config{
		Name:      "vendor",
		Threshold: cfg.Breaker.Threshold,
		Cooldown:  cfg.Breaker.Cooldown,
	}, breakerOpts...)

	vendor := adapter.NewVendorClient(adapter.VendorConfigFrom(&cfg.Vendor), breaker, adapter.WithResponseCache(cacheService))
	defer vendor.FlushMetrics()

	youtube := adapter.NewYouTubeClient(&cfg.YouTube, nil)
	if !youtube.Configured() {
		logger.Warn("YOUTUBE_API_KEY not set, direct metadata fallback and channel import disabled")
	}

	var quota *ratelimit.QuotaTracker
	if cfg.YouTube.DailyQuota > 0 {
		quota, err = ratelimit.NewQuotaTracker(&ratelimit.QuotaTrackerConfig{
			Redis:         redis.Client(),
			DailyQuota:    cfg.YouTube.DailyQuota,
			ReservedQuota: cfg.YouTube.ReservedQuota,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create YouTube quota tracker")
		}
		youtube.SetQuota(quota)
	}

	provider := metadata.NewProvider(vendor, youtube, cacheService, cfg.YouTube.CacheTTL)

	// Thumbnails are optional
	var thumbnails job.ThumbnailStore
	if cfg.Storage.Enabled() {
		s3Client, err := storage.NewS3Client(ctx, &cfg.Storage)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create S3 client")
		}
		thumbnails = storage.NewThumbnailStore(s3Client, cfg.Storage.ThumbnailBucket, cfg.Storage.PublicBaseURL)
		logger.WithField("bucket", cfg.Storage.ThumbnailBucket).Info("Thumbnail storage enabled")
	}

	editorial := service.NewEditorialService(vendor, recordRepo, cfg.Editorial.GoldenPrompt)

	// Queue, processor, refresher, scheduler
	queue := job.NewQueue(jobRepo, recordRepo, thumbnails, cfg.Queue.ManualWakeDelay)
	processor := job.NewProcessor(jobRepo, recordRepo, provider, vendor, editorial, thumbnails, job.ProcessorConfig{
		BatchSize:      cfg.Queue.BatchSize,
		MinDuration:    cfg.Queue.MinDuration,
		TranscriptMode: cfg.Editorial.TranscriptMode,
		TranscriptLang: cfg.Editorial.TranscriptLang,
	})
	refresher := job.NewRefresher(recordRepo, provider, queue)

	scheduler, err := worker.NewScheduler(processor, refresher, worker.SchedulerConfigFrom(&cfg.Queue, &cfg.Feed))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}
	queue.SetWaker(scheduler)

	var feeds *job.FeedPoller
	if cfg.Feed.Enabled() {
		feeds = job.NewFeedPoller(adapter.NewFeedClient(&cfg.Feed, nil), queue, cfg.Feed.URLs, cfg.Feed.ImportLimit)
		scheduler.SetFeedRunner(feeds)
		logger.WithField("feeds", len(cfg.Feed.URLs)).Info("Channel feed import enabled")
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}

	// HTTP API
	deps := api.Dependencies{
		Queue:     queue,
		Processor: processor,
		Refresher: refresher,
		Vendor:    vendor,
		Logger:    logger,
	}
	if youtube.Configured() {
		deps.Channels = youtube
	}
	if quota != nil {
		deps.Quota = quota
	}
	if feeds != nil {
		deps.Feeds = feeds
	}

	server := api.NewServer(&api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RequestsPerSec:  cfg.Server.RequestsPerSec,
		JWTSecret:       cfg.Auth.JWTSecret,
		SiteURL:         cfg.Vendor.SiteURL,
		SiteName:        cfg.Vendor.SiteName,
	}, deps)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, admin API is unauthenticated")
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-serverErr:
		logger.WithError(err).Error("API server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(logging.WithLogger(context.Background(), logger), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("API server shutdown failed")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Scheduler stop failed")
	}
	cancel()

	logger.Info("Shutdown complete")
}
