package catalog

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/minqiao/notepress-backend/pkg/db/models"
	"github.com/minqiao/notepress-backend/pkg/enums"
)

// Repository persists catalog items and their media assets.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Upsert inserts the item or refreshes its mutable fields, keyed by the
// platform item id. Rows are never deleted by the reconciler.
func (r *Repository) Upsert(ctx context.Context, item *models.CatalogItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "price_min", "price_max", "stock", "buyable",
			"state", "item_created_at", "synced_at", "updated_at",
		}),
	}).Create(item).Error
}

// ExistingItemIDs returns the set of platform ids already persisted.
func (r *Repository) ExistingItemIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.CatalogItem{}).Pluck("item_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// MarkUnmanaged flags an item no longer buyable upstream.
func (r *Repository) MarkUnmanaged(ctx context.Context, itemID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CatalogItem{}).
		Where("item_id = ?", itemID).
		Updates(map[string]any{
			"state":     enums.CatalogStateUnmanaged,
			"buyable":   false,
			"synced_at": at,
		}).
		Error
}
