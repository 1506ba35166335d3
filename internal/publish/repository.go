package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/minqiao/notepress-backend/pkg/db/models"
	"github.com/minqiao/notepress-backend/pkg/enums"
	pkgerrors "github.com/minqiao/notepress-backend/pkg/errors"
)

// Repository owns the content rows the sweep moves through the state
// machine.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DuePending returns PENDING_PUBLISH items whose slot has passed,
// oldest slot first, capped to limit.
func (r *Repository) DuePending(ctx context.Context, now time.Time, limit int) ([]models.ContentItem, error) {
	var items []models.ContentItem
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.ContentStatusPendingPublish).
		Where("scheduled_at IS NOT NULL AND scheduled_at > 0 AND scheduled_at <= ?", now.Unix()).
		Where("published_at IS NULL OR published_at = 0").
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&items).
		Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// EnabledAsset returns the newest enabled media asset for the catalog
// item, or nil when none exists.
func (r *Repository) EnabledAsset(ctx context.Context, catalogItemID uuid.UUID) (*models.MediaAsset, error) {
	var asset models.MediaAsset
	err := r.db.WithContext(ctx).
		Where("catalog_item_id = ? AND enabled = ?", catalogItemID, true).
		Order("created_at DESC").
		First(&asset).
		Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &asset, nil
}

// FinishPublish marks the content published and charges the asset's
// publish counter in the same transaction. The row is re-read inside
// the transaction and the move is checked against the transition map,
// so a row another writer already moved cannot be published twice.
func (r *Repository) FinishPublish(ctx context.Context, contentID, assetID uuid.UUID, noteID string, publishedAt int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.ContentItem
		if err := tx.First(&item, "id = ?", contentID).Error; err != nil {
			return err
		}
		if !item.Status.CanTransition(enums.ContentStatusPublished) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("content %s cannot move from %s to %s", contentID, item.Status, enums.ContentStatusPublished))
		}
		err := tx.Model(&models.ContentItem{}).
			Where("id = ?", contentID).
			Updates(map[string]any{
				"status":       enums.ContentStatusPublished,
				"published_at": publishedAt,
				"note_id":      noteID,
				"last_error":   nil,
			}).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.MediaAsset{}).
			Where("id = ?", assetID).
			UpdateColumn("publish_count", gorm.Expr("publish_count + 1")).
			Error
	})
}

// RecordFailure bumps the attempt counter and stores the cause. Once
// the attempts reach maxAttempts the item is parked as PUBLISH_FAILED,
// otherwise it stays PENDING_PUBLISH for the next sweep.
func (r *Repository) RecordFailure(ctx context.Context, contentID uuid.UUID, cause string, maxAttempts int) (enums.ContentStatus, error) {
	status := enums.ContentStatusPendingPublish
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.ContentItem
		if err := tx.First(&item, "id = ?", contentID).Error; err != nil {
			return err
		}
		item.PublishAttempts++
		if item.PublishAttempts >= maxAttempts {
			status = enums.ContentStatusPublishFailed
		}
		if status != item.Status && !item.Status.CanTransition(status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("content %s cannot move from %s to %s", contentID, item.Status, status))
		}
		return tx.Model(&models.ContentItem{}).
			Where("id = ?", contentID).
			Updates(map[string]any{
				"publish_attempts": item.PublishAttempts,
				"last_error":       cause,
				"status":           status,
			}).Error
	})
	return status, err
}
