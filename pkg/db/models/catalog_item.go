package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/minqiao/notepress-backend/pkg/enums"
)

// CatalogItem mirrors one sellable item pulled from the seller catalog.
// ItemID is the platform identifier and the upsert key for the reconciler.
type CatalogItem struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ItemID      string             `gorm:"column:item_id;not null;unique"`
	Name        string             `gorm:"column:name;not null"`
	Description *string            `gorm:"column:description"`
	PriceMin    decimal.Decimal    `gorm:"column:price_min;type:numeric(12,2);not null"`
	PriceMax    decimal.Decimal    `gorm:"column:price_max;type:numeric(12,2);not null"`
	Stock       int                `gorm:"column:stock;not null;default:0"`
	Buyable     bool               `gorm:"column:buyable;not null;default:false"`
	State       enums.CatalogState `gorm:"column:state;not null"`
	// ItemCreatedAt is the platform-side creation time in unix millis,
	// used to prefer newer listings during generation.
	ItemCreatedAt int64        `gorm:"column:item_created_at;not null;default:0"`
	SyncedAt      time.Time    `gorm:"column:synced_at"`
	Assets        []MediaAsset `gorm:"foreignKey:CatalogItemID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id when the caller left it zero, so inserts
// work on drivers without a server-side uuid default.
func (c *CatalogItem) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
