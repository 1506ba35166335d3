package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/minqiao/notepress-backend/internal/publish"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

type fakePublishService struct {
	result *publish.SweepResult
	err    error
	called int
}

func (f *fakePublishService) Sweep(ctx context.Context) (*publish.SweepResult, error) {
	f.called++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newPublishSweepJob(t *testing.T, service *fakePublishService) Job {
	t.Helper()
	job, err := NewPublishSweepJob(PublishSweepJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Service: service,
	})
	if err != nil {
		t.Fatalf("NewPublishSweepJob: %v", err)
	}
	return job
}

func TestPublishSweepJobRunsService(t *testing.T) {
	service := &fakePublishService{result: &publish.SweepResult{Due: 2, Published: 2}}
	job := newPublishSweepJob(t, service)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if service.called != 1 {
		t.Fatalf("expected service called once, got %d", service.called)
	}
}

func TestPublishSweepJobPropagatesErrors(t *testing.T) {
	service := &fakePublishService{err: errors.New("db down")}
	job := newPublishSweepJob(t, service)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
