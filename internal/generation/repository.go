package generation

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/minqiao/notepress-backend/pkg/db/models"
	"github.com/minqiao/notepress-backend/pkg/enums"
)

// Repository answers the eligibility and quota queries the orchestrator
// needs and persists generated content.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var inFlightStatuses = []enums.ContentStatus{
	enums.ContentStatusDraft,
	enums.ContentStatusPendingReview,
	enums.ContentStatusPendingPublish,
}

// EligibleItems returns managed catalog items that have at least one
// enabled media asset and no content still moving through the pipeline,
// newest platform listing first.
func (r *Repository) EligibleItems(ctx context.Context, limit int) ([]models.CatalogItem, error) {
	var items []models.CatalogItem
	err := r.db.WithContext(ctx).
		Where("state = ?", enums.CatalogStateManaged).
		Where("EXISTS (SELECT 1 FROM media_assets WHERE media_assets.catalog_item_id = catalog_items.id AND media_assets.enabled = ?)", true).
		Where("NOT EXISTS (SELECT 1 FROM content_items WHERE content_items.catalog_item_id = catalog_items.id AND content_items.status IN ?)", inFlightStatuses).
		Order("item_created_at DESC").
		Limit(limit).
		Find(&items).
		Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// PendingScheduledBetween counts PENDING_PUBLISH items whose slot falls
// inside [from, to), used to charge today's generation against the
// daily limit.
func (r *Repository) PendingScheduledBetween(ctx context.Context, from, to time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ContentItem{}).
		Where("status = ?", enums.ContentStatusPendingPublish).
		Where("scheduled_at >= ? AND scheduled_at < ?", from.Unix(), to.Unix()).
		Count(&count).
		Error
	return int(count), err
}

// ActivePrompt loads the newest active prompt template, or nil when no
// template has been stored.
func (r *Repository) ActivePrompt(ctx context.Context) (*models.PromptTemplate, error) {
	var tpl models.PromptTemplate
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("updated_at DESC").
		First(&tpl).
		Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &tpl, nil
}

// CreateContent inserts one generated note.
func (r *Repository) CreateContent(ctx context.Context, item *models.ContentItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}
