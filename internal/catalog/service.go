package catalog

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/minqiao/notepress-backend/pkg/ark"
	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/db/models"
	"github.com/minqiao/notepress-backend/pkg/enums"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

// Searcher is the slice of the platform client the reconciler needs.
type Searcher interface {
	SearchItems(ctx context.Context, req ark.SearchItemsRequest) (*ark.SearchItemsResult, error)
	ItemDetail(ctx context.Context, itemID string) (*ark.CatalogItem, error)
}

// Service reconciles the local catalog mirror against the seller's
// platform catalog.
type Service interface {
	Sync(ctx context.Context) (*SyncResult, error)
}

// SyncResult summarizes one reconciliation run.
type SyncResult struct {
	Fetched    int
	Inserted   int
	Refreshed  int
	Unmanaged  int
	Skipped    int
	PagesTried int
	Failures   int
}

type ServiceParams struct {
	Repo     *Repository
	Searcher Searcher
	Config   config.PipelineConfig
	Logger   *logger.Logger
}

type service struct {
	repo     *Repository
	searcher Searcher
	cfg      config.PipelineConfig
	logg     *logger.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
}

func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if p.Searcher == nil {
		return nil, fmt.Errorf("catalog searcher required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := p.Config
	if cfg.CatalogPageSize <= 0 {
		cfg.CatalogPageSize = 20
	}
	if cfg.CatalogFailureLimit <= 0 {
		cfg.CatalogFailureLimit = 5
	}
	return &service{
		repo:     p.Repo,
		searcher: p.Searcher,
		cfg:      cfg,
		logg:     p.Logger,
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

// Sync pulls every page of the seller catalog newest-first. Buyable
// records are upserted by their platform id; mirrored items that turn
// unbuyable are flagged unmanaged but never deleted, and unbuyable
// records never mirrored before are skipped. Upstream failures on a
// page are retried as the next iteration of the loop; the run aborts
// once CatalogFailureLimit consecutive pages fail.
func (s *service) Sync(ctx context.Context) (*SyncResult, error) {
	ctx = s.logg.WithJob(ctx, "catalog_sync")

	existing, err := s.repo.ExistingItemIDs(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	var fetched []ark.CatalogItem

	pageNo := 1
	consecutiveFailures := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := s.searcher.SearchItems(ctx, ark.NewSearchItemsRequest(pageNo, s.cfg.CatalogPageSize))
		result.PagesTried++
		if err != nil {
			consecutiveFailures++
			result.Failures++
			s.logg.Error(s.logg.WithField(ctx, "page_no", pageNo), "catalog page fetch failed", err)
			if consecutiveFailures >= s.cfg.CatalogFailureLimit {
				return result, fmt.Errorf("catalog sync aborted after %d consecutive page failures: %w", consecutiveFailures, err)
			}
			s.pause(ctx)
			continue
		}
		consecutiveFailures = 0

		if len(page.Items) == 0 {
			break
		}
		fetched = append(fetched, page.Items...)
		pageNo++
		s.pause(ctx)
	}

	result.Fetched = len(fetched)
	syncedAt := s.now()

	for i := range fetched {
		record := &fetched[i]
		_, known := existing[record.ID]

		if !record.Buyable {
			// an unbuyable listing never mirrored is not worth a row
			if !known {
				result.Skipped++
				continue
			}
			if err := s.repo.MarkUnmanaged(ctx, record.ID, syncedAt); err != nil {
				s.logg.Error(s.logg.WithItemID(ctx, record.ID), "catalog item unmanage failed", err)
				result.Failures++
				continue
			}
			result.Unmanaged++
			continue
		}

		if record.Desc == "" {
			s.enrich(ctx, record)
		}
		item := s.toModel(record, syncedAt)
		if err := s.repo.Upsert(ctx, item); err != nil {
			s.logg.Error(s.logg.WithItemID(ctx, record.ID), "catalog item upsert failed", err)
			result.Failures++
			continue
		}

		if known {
			result.Refreshed++
		} else {
			result.Inserted++
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"fetched":   result.Fetched,
		"inserted":  result.Inserted,
		"refreshed": result.Refreshed,
		"unmanaged": result.Unmanaged,
		"skipped":   result.Skipped,
		"pages":     result.PagesTried,
		"failures":  result.Failures,
	}), "catalog sync finished")
	return result, nil
}

// enrich fills a missing description from the item detail endpoint.
// Best effort: a failed lookup keeps the search record as is.
func (s *service) enrich(ctx context.Context, record *ark.CatalogItem) {
	detail, err := s.searcher.ItemDetail(ctx, record.ID)
	if err != nil {
		s.logg.Warn(s.logg.WithItemID(ctx, record.ID), "item detail lookup failed: "+err.Error())
		return
	}
	if detail.Desc != "" {
		record.Desc = detail.Desc
	}
}

// toModel maps a buyable search record onto the mirror row.
func (s *service) toModel(record *ark.CatalogItem, syncedAt time.Time) *models.CatalogItem {
	var desc *string
	if record.Desc != "" {
		desc = &record.Desc
	}
	priceMax := record.MaxPrice
	if priceMax.LessThan(record.Price) {
		priceMax = record.Price
	}
	return &models.CatalogItem{
		ItemID:        record.ID,
		Name:          record.Name,
		Description:   desc,
		PriceMin:      record.Price,
		PriceMax:      priceMax,
		Stock:         record.Stock,
		Buyable:       true,
		State:         enums.CatalogStateManaged,
		ItemCreatedAt: record.CreateTime,
		SyncedAt:      syncedAt,
	}
}

// pause sleeps a short random interval between catalog pages to avoid
// hammering the upstream search endpoint.
func (s *service) pause(ctx context.Context) {
	min := s.cfg.CatalogPageDelayMin
	max := s.cfg.CatalogPageDelayMax
	if max <= min {
		if min > 0 {
			s.sleep(ctx, min)
		}
		return
	}
	s.sleep(ctx, min+time.Duration(rand.Int63n(int64(max-min))))
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
