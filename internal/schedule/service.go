package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/minqiao/notepress-backend/pkg/db/models"
	pkgerrors "github.com/minqiao/notepress-backend/pkg/errors"
)

// Service manages the publish window configuration and answers
// scheduling questions for the generation and publish workflows.
type Service interface {
	GetWindow(ctx context.Context) (*models.PublishWindow, error)
	UpdateWindow(ctx context.Context, input UpdateWindowInput) (*models.PublishWindow, error)
	PlanPublishTimes(ctx context.Context, count int) ([]time.Time, error)
}

// UpdateWindowInput carries the full replacement configuration.
type UpdateWindowInput struct {
	StartMinute    int  `validate:"min=0,max=1439"`
	EndMinute      int  `validate:"min=0,max=1439"`
	GenerateMinute int  `validate:"min=0,max=1439"`
	DailyLimit     int  `validate:"min=1,max=50"`
	Enabled        bool
}

type service struct {
	repo     *Repository
	validate *validator.Validate
	now      func() time.Time
}

func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("schedule repository required")
	}
	return &service{
		repo:     repo,
		validate: validator.New(),
		now:      time.Now,
	}, nil
}

func (s *service) GetWindow(ctx context.Context) (*models.PublishWindow, error) {
	return s.repo.Get(ctx)
}

func (s *service) UpdateWindow(ctx context.Context, input UpdateWindowInput) (*models.PublishWindow, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid window configuration")
	}
	if input.EndMinute == input.StartMinute {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "publish window must not be empty")
	}

	window, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	window.StartMinute = input.StartMinute
	window.EndMinute = input.EndMinute
	window.GenerateMinute = input.GenerateMinute
	window.DailyLimit = input.DailyLimit
	window.Enabled = input.Enabled

	if err := s.repo.Save(ctx, window); err != nil {
		return nil, err
	}
	return window, nil
}

func (s *service) PlanPublishTimes(ctx context.Context, count int) ([]time.Time, error) {
	window, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	return PublishTimes(window, count, s.now()), nil
}
