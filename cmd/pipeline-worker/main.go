package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/minqiao/notepress-backend/api"
	"github.com/minqiao/notepress-backend/api/handlers"
	"github.com/minqiao/notepress-backend/internal/catalog"
	"github.com/minqiao/notepress-backend/internal/cron"
	"github.com/minqiao/notepress-backend/internal/generation"
	"github.com/minqiao/notepress-backend/internal/publish"
	"github.com/minqiao/notepress-backend/internal/schedule"
	"github.com/minqiao/notepress-backend/pkg/ai"
	"github.com/minqiao/notepress-backend/pkg/ark"
	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/db"
	"github.com/minqiao/notepress-backend/pkg/logger"
	"github.com/minqiao/notepress-backend/pkg/metrics"
	"github.com/minqiao/notepress-backend/pkg/migrate"
	"github.com/minqiao/notepress-backend/pkg/redis"
	"github.com/minqiao/notepress-backend/pkg/storage/oss"
)

const (
	lockKeyFormat = "np:pipeline-worker:lock:%s"
	lockTTL       = 5 * time.Minute
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "pipeline-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "pipeline-worker"

	logg = logger.New(logger.Options{
		ServiceName: "pipeline-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ossClient, err := oss.NewClient(context.Background(), cfg.OSS, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap object storage", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	cronMetrics := metrics.NewCronJobMetrics(promRegistry)
	pipelineMetrics := metrics.NewPipelineMetrics(promRegistry)

	arkClient, err := ark.NewClient(ark.ClientParams{Config: cfg.Ark, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to create platform client", err)
		os.Exit(1)
	}
	uploader, err := ark.NewUploader(ark.UploaderParams{
		Client:  arkClient,
		Config:  cfg.Ark,
		Metrics: pipelineMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create uploader", err)
		os.Exit(1)
	}
	aiClient, err := ai.NewClient(ai.ClientParams{Config: cfg.AI, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to create ai client", err)
		os.Exit(1)
	}

	scheduleService, err := schedule.NewService(schedule.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create schedule service", err)
		os.Exit(1)
	}
	catalogService, err := catalog.NewService(catalog.ServiceParams{
		Repo:     catalog.NewRepository(dbClient.DB()),
		Searcher: arkClient,
		Config:   cfg.Pipeline,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}
	generationService, err := generation.NewService(generation.ServiceParams{
		Repo:     generation.NewRepository(dbClient.DB()),
		Schedule: scheduleService,
		AI:       aiClient,
		Config:   cfg.Pipeline,
		Metrics:  pipelineMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create generation service", err)
		os.Exit(1)
	}
	publishService, err := publish.NewService(publish.ServiceParams{
		Repo:      publish.NewRepository(dbClient.DB()),
		Store:     ossClient,
		Uploader:  uploader,
		Publisher: arkClient,
		Config:    cfg.Pipeline,
		Metrics:   pipelineMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create publish service", err)
		os.Exit(1)
	}

	catalogJob, err := cron.NewCatalogSyncJob(cron.CatalogSyncJobParams{
		Logger:  logg,
		Service: catalogService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog sync job", err)
		os.Exit(1)
	}
	generationJob, err := cron.NewGenerationJob(cron.GenerationJobParams{
		Logger:  logg,
		Service: generationService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create generation job", err)
		os.Exit(1)
	}
	sweepJob, err := cron.NewPublishSweepJob(cron.PublishSweepJobParams{
		Logger:  logg,
		Service: publishService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create publish sweep job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), lockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(catalogJob, generationJob, sweepJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Pipeline.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	opsServer := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: api.NewHandler(api.HandlerParams{
			Config:   cfg,
			Logger:   logg,
			Registry: promRegistry,
			Deps: map[string]handlers.Pinger{
				"db":    dbClient,
				"redis": redisClient,
				"oss":   ossClient,
			},
		}),
	}
	go func() {
		logg.Info(ctx, "starting ops server on "+opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "error shutting down ops server", err)
		}
	}()

	logg.Info(ctx, "starting pipeline worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "pipeline worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "pipeline worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
