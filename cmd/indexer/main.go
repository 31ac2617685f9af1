// Package main wires together the url-indexer service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/api"
	"github.com/seoforge/url-indexer/internal/archive"
	"github.com/seoforge/url-indexer/internal/clock/system"
	"github.com/seoforge/url-indexer/internal/config"
	"github.com/seoforge/url-indexer/internal/credentials"
	"github.com/seoforge/url-indexer/internal/dispatch"
	"github.com/seoforge/url-indexer/internal/indexapi"
	"github.com/seoforge/url-indexer/internal/indexer"
	"github.com/seoforge/url-indexer/internal/jobqueue"
	"github.com/seoforge/url-indexer/internal/logging"
	"github.com/seoforge/url-indexer/internal/notify"
	"github.com/seoforge/url-indexer/internal/orchestrator"
	"github.com/seoforge/url-indexer/internal/progress"
	"github.com/seoforge/url-indexer/internal/progress/sinks"
	"github.com/seoforge/url-indexer/internal/quota"
	"github.com/seoforge/url-indexer/internal/sitemap"
	"github.com/seoforge/url-indexer/internal/storage/memory"
	"github.com/seoforge/url-indexer/internal/storage/postgres"
	"github.com/seoforge/url-indexer/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.Clock{}

	var store indexer.Store
	var closeStore func()
	switch cfg.Storage.Provider {
	case "postgres":
		pgStore, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		store = pgStore
		closeStore = pgStore.Close
		logger.Info("using postgres storage")
	default:
		store = memory.New()
		closeStore = func() {}
		logger.Info("using in-memory storage")
	}
	defer closeStore()

	var psClient *pubsub.Client
	if cfg.PubSub.ProjectID != "" {
		psClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer psClient.Close()
	}

	hubSinks := []progress.Sink{
		sinks.NewLogSink(logger.Named("status")),
		sinks.NewMetricsSink(),
	}
	if psClient != nil {
		topic := psClient.Topic(cfg.PubSub.EventsTopic)
		hubSinks = append(hubSinks, sinks.NewPubSubSink(topic, logger.Named("pubsub")))
		logger.Info("publishing status events", zap.String("topic", cfg.PubSub.EventsTopic))
	}
	hub := progress.NewHub(progress.Config{
		BaseContext: context.Background(),
		Logger:      logger.Named("hub"),
	}, hubSinks...)
	broadcaster := progress.NewBroadcaster(hub, clock)

	var notifier indexer.Notifier = notify.NewLogNotifier(logger.Named("notify"))
	if psClient != nil {
		notifier = notify.NewPubSubNotifier(psClient.Topic(cfg.PubSub.NotificationsTopic))
	}

	var archiver archive.Archiver
	if cfg.Sitemap.ArchiveBucket != "" {
		gcsClient, err := gcstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs client init failed", zap.Error(err))
		}
		defer gcsClient.Close()
		archiver, err = archive.NewGCS(gcsClient, archive.GCSConfig{
			Bucket: cfg.Sitemap.ArchiveBucket,
			Prefix: cfg.Sitemap.ArchivePrefix,
		})
		if err != nil {
			logger.Fatal("archiver init failed", zap.Error(err))
		}
		logger.Info("archiving sitemaps", zap.String("bucket", cfg.Sitemap.ArchiveBucket))
	}

	crawler := sitemap.NewCrawler(sitemap.Config{
		UserAgent: cfg.Sitemap.UserAgent,
		Timeout:   cfg.SitemapTimeout(),
		MaxDepth:  cfg.Sitemap.MaxDepth,
	}, archiver, clock, logger.Named("sitemap"))

	queue := jobqueue.New(store, crawler, clock, logger.Named("jobqueue"))
	quotaMgr := quota.NewManager(store, broadcaster, notifier, clock, logger.Named("quota"))
	retry := indexer.NewRetryPolicyWith(cfg.Retry.MaxRetries, cfg.RetryBackoffBase(), cfg.RetryBackoffCap())
	apiClient := indexapi.New(indexapi.Config{
		Endpoint: cfg.Indexing.Endpoint,
		Timeout:  cfg.IndexingTimeout(),
	}, nil, logger.Named("indexapi"))
	creds := credentials.NewGoogleProvider(logger.Named("credentials"))

	runner := dispatch.NewClient(dispatch.Config{
		MinAccountInterval: cfg.MinAccountInterval(),
		SubmissionDelay:    cfg.SubmissionDelay(),
		ProgressEvery:      cfg.Indexing.ProgressEvery,
		NotificationType:   cfg.Indexing.NotificationType,
	}, store, apiClient, creds, quotaMgr, retry, broadcaster, clock, logger.Named("dispatch"))

	orch := orchestrator.New(store, queue, runner, broadcaster, clock, logger.Named("orchestrator"))

	if cfg.Sweeper.Enabled {
		sweeper := orchestrator.NewSweeper(store, quotaMgr, orch, cfg.SweeperInterval(), logger.Named("sweeper"))
		go sweeper.Run(ctx)
		logger.Info("sweeper started", zap.Duration("interval", cfg.SweeperInterval()))
	}

	apiServer := api.NewServer(ctx, store, orch, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("status hub shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
