package storage

import (
	"context"

	"gorm.io/gorm"

	"cpsocial/internal/models"
)

// ActivityRepository stores the append-only activity feed.
type ActivityRepository interface {
	Create(ctx context.Context, activity *models.Activity) error
	// ListByUsers returns the newest activities authored by any of userIDs.
	ListByUsers(ctx context.Context, userIDs []uint, limit int) ([]models.Activity, error)
}

type gormActivityRepository struct {
	db *gorm.DB
}

// NewGormActivityRepository creates a new GORM-based ActivityRepository.
func NewGormActivityRepository(db *gorm.DB) ActivityRepository {
	return &gormActivityRepository{db: db}
}

func (r *gormActivityRepository) Create(ctx context.Context, activity *models.Activity) error {
	return r.db.WithContext(ctx).Omit("User").Create(activity).Error
}

func (r *gormActivityRepository) ListByUsers(ctx context.Context, userIDs []uint, limit int) ([]models.Activity, error) {
	activities := make([]models.Activity, 0)
	if len(userIDs) == 0 {
		return activities, nil
	}
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("user_id IN ?", userIDs).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}
