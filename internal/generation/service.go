package generation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minqiao/notepress-backend/internal/schedule"
	"github.com/minqiao/notepress-backend/pkg/ai"
	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/db/models"
	"github.com/minqiao/notepress-backend/pkg/db/types"
	"github.com/minqiao/notepress-backend/pkg/enums"
	"github.com/minqiao/notepress-backend/pkg/logger"
	"github.com/minqiao/notepress-backend/pkg/metrics"
)

const (
	// generateGate is how far from the configured generate minute a
	// run may start. The cron ticker fires once a minute, so the gate
	// only needs to absorb ticker drift.
	generateGate = 5 * time.Minute

	// scheduleJitter spreads publish slots so notes do not land on the
	// exact same second every day.
	scheduleJitter = 120 * time.Second

	// eligibleBatchLimit bounds how many candidates one run considers.
	eligibleBatchLimit = 50
)

// Generator is the slice of the AI client the orchestrator needs.
type Generator interface {
	GenerateArticle(ctx context.Context, prompt string) (*ai.Article, error)
	Model() string
}

// Service drives one daily generation run.
type Service interface {
	Run(ctx context.Context) (*RunResult, error)
}

// RunResult summarizes one generation run.
type RunResult struct {
	Skipped   bool
	Reason    string
	Planned   int
	Generated int
	Failed    int
}

type ServiceParams struct {
	Repo     *Repository
	Schedule schedule.Service
	AI       Generator
	Config   config.PipelineConfig
	Metrics  *metrics.PipelineMetrics
	Logger   *logger.Logger
}

type service struct {
	repo     *Repository
	schedule schedule.Service
	ai       Generator
	cfg      config.PipelineConfig
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
	now      func() time.Time
	jitter   func() time.Duration
}

func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("generation repository required")
	}
	if p.Schedule == nil {
		return nil, fmt.Errorf("schedule service required")
	}
	if p.AI == nil {
		return nil, fmt.Errorf("ai generator required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := p.Config
	if cfg.GenerateConcurrent <= 0 {
		cfg.GenerateConcurrent = 4
	}
	return &service{
		repo:     p.Repo,
		schedule: p.Schedule,
		ai:       p.AI,
		cfg:      cfg,
		metrics:  p.Metrics,
		logg:     p.Logger,
		now:      time.Now,
		jitter:   randomJitter,
	}, nil
}

func randomJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(2*scheduleJitter))) - scheduleJitter
}

// Run executes one generation pass: it checks the window gate, works
// out how many slots remain under the daily limit, picks that many
// eligible catalog items, and generates one note per item concurrently.
// A failed slot is logged and counted but never fails the run.
func (s *service) Run(ctx context.Context) (*RunResult, error) {
	ctx = s.logg.WithJob(ctx, "content_generation")

	window, err := s.schedule.GetWindow(ctx)
	if err != nil {
		return nil, err
	}
	if !window.Enabled {
		return &RunResult{Skipped: true, Reason: "window disabled"}, nil
	}

	now := s.now()
	if !withinGate(now, window.GenerateMinute) {
		return &RunResult{Skipped: true, Reason: "outside generate window"}, nil
	}

	// Pending work is charged against the generation day anchored on
	// the window start, not the calendar day: an overnight window rolls
	// slots past midnight and those still belong to today's quota. The
	// lower bound absorbs negative slot jitter.
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	windowStart := dayStart.Add(time.Duration(window.StartMinute) * time.Minute)
	pending, err := s.repo.PendingScheduledBetween(ctx, windowStart.Add(-scheduleJitter), windowStart.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	needed := window.DailyLimit - pending
	if needed <= 0 {
		return &RunResult{Skipped: true, Reason: "daily limit reached"}, nil
	}

	eligible, err := s.repo.EligibleItems(ctx, eligibleBatchLimit)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return &RunResult{Skipped: true, Reason: "no eligible items"}, nil
	}

	// One in-flight note per catalog item, so slots never exceed the
	// eligible pool even when the daily limit has room left.
	slots := needed
	if slots > len(eligible) {
		slots = len(eligible)
	}

	times, err := s.schedule.PlanPublishTimes(ctx, slots)
	if err != nil {
		return nil, err
	}
	if len(times) < slots {
		slots = len(times)
	}

	template := defaultPrompt
	if tpl, err := s.repo.ActivePrompt(ctx); err != nil {
		return nil, err
	} else if tpl != nil {
		template = tpl.Body
	}

	result := &RunResult{Planned: slots}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.GenerateConcurrent)
	for i := 0; i < slots; i++ {
		item := eligible[i]
		slotAt := times[i]
		group.Go(func() error {
			itemCtx := s.logg.WithItemID(groupCtx, item.ItemID)
			if err := s.generateOne(itemCtx, &item, slotAt, template); err != nil {
				s.logg.Error(itemCtx, "note generation failed", err)
				s.metrics.IncGenerated("failure")
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return nil
			}
			s.metrics.IncGenerated("success")
			mu.Lock()
			result.Generated++
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"planned":   result.Planned,
		"generated": result.Generated,
		"failed":    result.Failed,
	}), "generation run finished")
	return result, nil
}

func (s *service) generateOne(ctx context.Context, item *models.CatalogItem, slotAt time.Time, template string) error {
	prompt := renderPrompt(template, item.Name, promptDescription(item.Description))

	article, err := s.ai.GenerateArticle(ctx, prompt)
	if err != nil {
		return err
	}

	scheduledAt := slotAt.Add(s.jitter()).Unix()
	content := &models.ContentItem{
		CatalogItemID: item.ID,
		Title:         article.Title,
		Body:          article.Content,
		Tags:          dbtypes.StringArray(article.Tags),
		Author:        s.ai.Model(),
		Status:        enums.ContentStatusPendingPublish,
		ScheduledAt:   &scheduledAt,
	}
	return s.repo.CreateContent(ctx, content)
}

// withinGate reports whether now is close enough to the configured
// generate minute, treating the day as circular so a minute near
// midnight gates correctly.
func withinGate(now time.Time, generateMinute int) bool {
	nowMinute := now.Hour()*60 + now.Minute()
	diff := nowMinute - generateMinute
	if diff < 0 {
		diff = -diff
	}
	if wrapped := 1440 - diff; wrapped < diff {
		diff = wrapped
	}
	return time.Duration(diff)*time.Minute <= generateGate
}
