package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/minqiao/notepress-backend/internal/catalog"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

const defaultCatalogSyncInterval = 12 * time.Hour

type catalogSyncer interface {
	Sync(ctx context.Context) (*catalog.SyncResult, error)
}

type CatalogSyncJobParams struct {
	Logger   *logger.Logger
	Service  catalogSyncer
	Interval time.Duration
}

// NewCatalogSyncJob reconciles the local catalog mirror against the
// seller platform. The cron ticker is much tighter than a catalog
// refresh needs, so the job rate-limits itself to Interval.
func NewCatalogSyncJob(params CatalogSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("catalog service required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultCatalogSyncInterval
	}
	return &catalogSyncJob{
		logg:     params.Logger,
		service:  params.Service,
		interval: interval,
		now:      time.Now,
	}, nil
}

type catalogSyncJob struct {
	logg     *logger.Logger
	service  catalogSyncer
	interval time.Duration
	now      func() time.Time
	lastRun  time.Time
}

func (j *catalogSyncJob) Name() string { return "catalog-sync" }

func (j *catalogSyncJob) Run(ctx context.Context) error {
	now := j.now()
	if !j.lastRun.IsZero() && now.Sub(j.lastRun) < j.interval {
		return nil
	}

	result, err := j.service.Sync(ctx)
	if err != nil {
		return fmt.Errorf("catalog sync: %w", err)
	}
	j.lastRun = now

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"fetched":   result.Fetched,
		"inserted":  result.Inserted,
		"refreshed": result.Refreshed,
		"unmanaged": result.Unmanaged,
	})
	j.logg.Info(logCtx, "catalog sync complete")
	return nil
}
