package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MediaAsset is one video stored in object storage and attached to a
// catalog item. ContentHash deduplicates re-uploads of the same file.
type MediaAsset struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CatalogItemID uuid.UUID `gorm:"column:catalog_item_id;type:uuid;not null"`
	OSSKey        string    `gorm:"column:oss_key;not null"`
	ContentHash   string    `gorm:"column:content_hash;not null;unique"`
	FileName      string    `gorm:"column:file_name;not null"`
	MimeType      string    `gorm:"column:mime_type;not null"`
	SizeBytes     int64     `gorm:"column:size_bytes;not null"`
	DurationMS    int64     `gorm:"column:duration_ms;not null;default:0"`
	Width         int       `gorm:"column:width;not null;default:0"`
	Height        int       `gorm:"column:height;not null;default:0"`
	Format        string    `gorm:"column:format"`
	VideoCodec    *string   `gorm:"column:video_codec"`
	AudioCodec    *string   `gorm:"column:audio_codec"`
	ColorSpace    string    `gorm:"column:color_space"`
	Bitrate       int64     `gorm:"column:bitrate;not null;default:0"`
	FrameRate     float64   `gorm:"column:frame_rate;not null;default:0"`
	Enabled       bool      `gorm:"column:enabled;not null;default:true"`
	PublishCount  int       `gorm:"column:publish_count;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (m *MediaAsset) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
