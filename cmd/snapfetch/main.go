// Package main wires together the snapfetch service binary.
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

	gcppubsub "cloud.google.com/go/pubsub"
	gcpstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/snapfetch/snapfetch/internal/api"
	"github.com/snapfetch/snapfetch/internal/classifier"
	"github.com/snapfetch/snapfetch/internal/clock/system"
	"github.com/snapfetch/snapfetch/internal/config"
	"github.com/snapfetch/snapfetch/internal/content"
	collyfetcher "github.com/snapfetch/snapfetch/internal/fetcher/colly"
	"github.com/snapfetch/snapfetch/internal/hash/sha256"
	"github.com/snapfetch/snapfetch/internal/id/uuid"
	"github.com/snapfetch/snapfetch/internal/logging"
	"github.com/snapfetch/snapfetch/internal/metrics"
	"github.com/snapfetch/snapfetch/internal/orchestrator"
	"github.com/snapfetch/snapfetch/internal/pipeline"
	pubsubpublisher "github.com/snapfetch/snapfetch/internal/publisher/pubsub"
	"github.com/snapfetch/snapfetch/internal/rendergate"
	chromedprenderer "github.com/snapfetch/snapfetch/internal/renderer/chromedp"
	gcsstorage "github.com/snapfetch/snapfetch/internal/storage/gcs"
	memorystorage "github.com/snapfetch/snapfetch/internal/storage/memory"
	memorystore "github.com/snapfetch/snapfetch/internal/store/memory"
	redisstore "github.com/snapfetch/snapfetch/internal/store/redis"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	jobStore, err := buildJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}

	gate, err := rendergate.New(rendergate.Config{
		JSCapacity:  cfg.Render.JSCapacity,
		PDFCapacity: cfg.Render.PDFCapacity,
		AcquireWait: cfg.AcquireWait(),
	})
	if err != nil {
		logger.Fatal("render gate init failed", zap.Error(err))
	}

	renderer, err := chromedprenderer.New(chromedprenderer.Config{
		UserAgent:         cfg.Fetch.UserAgent,
		NavigationTimeout: time.Duration(cfg.Render.NavTimeoutSeconds) * time.Second,
	})
	if err != nil {
		logger.Fatal("renderer init failed", zap.Error(err))
	}
	defer renderer.Close()

	cls := classifier.New(classifier.Config{
		SmallPageThresholdBytes: cfg.Classifier.SmallPageThresholdBytes,
		RenderDomains:           cfg.Classifier.RenderDomains,
	})

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})

	clock := system.New()

	var converterOpts []pipeline.Option
	if archive, aerr := buildArchive(ctx, cfg, logger); aerr != nil {
		logger.Fatal("archive init failed", zap.Error(aerr))
	} else if archive != nil {
		converterOpts = append(converterOpts, pipeline.WithArchive(archive, sha256.New(), cfg.Storage.Prefix))
	}

	converter := pipeline.New(fetcher, cls, gate, renderer, clock, logger.Named("pipeline"), converterOpts...)

	orch := orchestrator.New(
		ctx,
		jobStore,
		converter,
		uuid.New(),
		clock,
		orchestrator.Defaults{
			Format:         content.Format(cfg.Batch.DefaultFormat),
			Concurrency:    cfg.Batch.DefaultConcurrency,
			MaxConcurrency: cfg.Batch.MaxConcurrency,
			TimeoutPerURL:  cfg.TimeoutPerURL(),
		},
		logger.Named("orchestrator"),
	)

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, perr := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if perr != nil {
			logger.Fatal("pubsub client init failed", zap.Error(perr))
		}
		defer func() {
			if cerr := client.Close(); cerr != nil {
				logger.Warn("pubsub client close failed", zap.Error(cerr))
			}
		}()
		orch.WithPublisher(pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName)), cfg.PubSub.TopicName)
		logger.Info("completion events enabled", zap.String("topic", cfg.PubSub.TopicName))
	}

	apiServer := api.NewServer(orch, converter, jobStore, api.Config{
		AuthEnabled:   cfg.Auth.Enabled,
		APIKey:        cfg.Auth.APIKey,
		FetchTimeout:  cfg.FetchTimeout(),
		DefaultFormat: content.Format(cfg.Batch.DefaultFormat),
	}, logger.Named("api"))

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := orch.Drain(shutdownCtx); err != nil {
		logger.Warn("orchestrator drain incomplete", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildJobStore selects the Redis-backed store, falling back to memory only
// when no Redis URL is configured. Redis being down at startup is not fatal:
// readiness reports it and batch submissions fail with StoreUnavailable until
// it returns.
func buildJobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (content.JobStore, error) {
	if cfg.Redis.URL == "" {
		logger.Warn("no redis url configured, using in-memory job store")
		return memorystore.New(), nil
	}
	ttl := time.Duration(cfg.Redis.JobTTLDays) * 24 * time.Hour
	store, err := redisstore.New(cfg.Redis.URL, ttl)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable at startup", zap.Error(err))
	}
	return store, nil
}

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (content.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "noop", "":
		return nil, nil
	case "memory":
		return memorystorage.New(), nil
	case "gcs":
		client, err := gcpstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, err
		}
		logger.Info("content archive enabled", zap.String("bucket", cfg.Storage.GCSBucket))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}
