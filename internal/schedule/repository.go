package schedule

import (
	"context"

	"gorm.io/gorm"

	"github.com/minqiao/notepress-backend/pkg/db/models"
)

// Repository persists the singleton publish window configuration.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get loads the active window configuration.
func (r *Repository) Get(ctx context.Context) (*models.PublishWindow, error) {
	var window models.PublishWindow
	if err := r.db.WithContext(ctx).First(&window, "id = ?", models.PublishWindowID).Error; err != nil {
		return nil, err
	}
	return &window, nil
}

// Save writes the window configuration back.
func (r *Repository) Save(ctx context.Context, window *models.PublishWindow) error {
	window.ID = models.PublishWindowID
	return r.db.WithContext(ctx).Save(window).Error
}
