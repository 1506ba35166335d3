package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/minqiao/notepress-backend/pkg/db/types"
	"github.com/minqiao/notepress-backend/pkg/enums"
)

// ContentItem is one generated product note moving through the publish
// state machine. ScheduledAt and PublishedAt are unix seconds.
type ContentItem struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	CatalogItemID   uuid.UUID           `gorm:"column:catalog_item_id;type:uuid;not null"`
	Title           string              `gorm:"column:title;not null"`
	Body            string              `gorm:"column:body;not null"`
	Tags            dbtypes.StringArray `gorm:"column:tags;type:text"`
	Author          string              `gorm:"column:author;not null"`
	Status          enums.ContentStatus `gorm:"column:status;not null"`
	ScheduledAt     *int64              `gorm:"column:scheduled_at"`
	PublishedAt     *int64              `gorm:"column:published_at"`
	PublishAttempts int                 `gorm:"column:publish_attempts;not null;default:0"`
	NoteID          *string             `gorm:"column:note_id"`
	LastError       *string             `gorm:"column:last_error"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *ContentItem) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
