package cron

import (
	"context"
	"fmt"

	"github.com/minqiao/notepress-backend/internal/publish"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

type publishSweeper interface {
	Sweep(ctx context.Context) (*publish.SweepResult, error)
}

type PublishSweepJobParams struct {
	Logger  *logger.Logger
	Service publishSweeper
}

// NewPublishSweepJob publishes every content item whose slot has
// passed.
func NewPublishSweepJob(params PublishSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("publish service required")
	}
	return &publishSweepJob{
		logg:    params.Logger,
		service: params.Service,
	}, nil
}

type publishSweepJob struct {
	logg    *logger.Logger
	service publishSweeper
}

func (j *publishSweepJob) Name() string { return "publish-sweep" }

func (j *publishSweepJob) Run(ctx context.Context) error {
	result, err := j.service.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("publish sweep: %w", err)
	}
	if result.Due == 0 {
		return nil
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":       result.Due,
		"published": result.Published,
		"retried":   result.Retried,
		"failed":    result.Failed,
	})
	j.logg.Info(logCtx, "publish sweep complete")
	return nil
}
