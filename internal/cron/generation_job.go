package cron

import (
	"context"
	"fmt"

	"github.com/minqiao/notepress-backend/internal/generation"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

type generationRunner interface {
	Run(ctx context.Context) (*generation.RunResult, error)
}

type GenerationJobParams struct {
	Logger  *logger.Logger
	Service generationRunner
}

// NewGenerationJob runs the daily content generation pass. The service
// gates itself on the configured generate time, so firing the job on
// every cron tick is harmless.
func NewGenerationJob(params GenerationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("generation service required")
	}
	return &generationJob{
		logg:    params.Logger,
		service: params.Service,
	}, nil
}

type generationJob struct {
	logg    *logger.Logger
	service generationRunner
}

func (j *generationJob) Name() string { return "content-generation" }

func (j *generationJob) Run(ctx context.Context) error {
	result, err := j.service.Run(ctx)
	if err != nil {
		return fmt.Errorf("content generation: %w", err)
	}
	if result.Skipped {
		return nil
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"planned":   result.Planned,
		"generated": result.Generated,
		"failed":    result.Failed,
	})
	j.logg.Info(logCtx, "content generation complete")
	return nil
}
