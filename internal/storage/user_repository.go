package storage

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"cpsocial/internal/models"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Exists(ctx context.Context, id uint) (bool, error)
	UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) error
	UpdateStats(ctx context.Context, id uint, stats models.UserStats) error
	SearchUsers(ctx context.Context, query string, currentUserID uint, limit int) ([]models.User, error)
	GetMultipleBasicInfoByIDs(ctx context.Context, userIDs []uint) (map[uint]models.UserBasicInfo, error)
	// Leaderboard returns users ordered by solved count. A nil userIDs means
	// every user.
	Leaderboard(ctx context.Context, userIDs []uint, limit int) ([]models.User, error)
}

// gormUserRepository implements UserRepository using GORM.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based UserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

// Create creates a new user record in the database.
func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user by their ID.
func (r *gormUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByUsername retrieves a user by their username.
func (r *gormUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email.
func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormUserRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// UpdateProfile updates the given columns only. Zero values in fields are
// written as-is.
func (r *gormUserRepository) UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormUserRepository) UpdateStats(ctx context.Context, id uint, stats models.UserStats) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"easy_solved":    stats.EasySolved,
		"medium_solved":  stats.MediumSolved,
		"hard_solved":    stats.HardSolved,
		"total_solved":   stats.TotalSolved,
		"contest_rating": stats.ContestRating,
		"current_streak": stats.CurrentStreak,
		"longest_streak": stats.LongestStreak,
		"last_solved_at": stats.LastSolvedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SearchUsers does a case-insensitive substring match on username and
// display name, excluding the caller.
func (r *gormUserRepository) SearchUsers(ctx context.Context, query string, currentUserID uint, limit int) ([]models.User, error) {
	users := make([]models.User, 0)
	searchTerm := "%" + strings.ToLower(query) + "%"

	err := r.db.WithContext(ctx).
		Where("(LOWER(username) LIKE ? OR LOWER(display_name) LIKE ?) AND id <> ?", searchTerm, searchTerm, currentUserID).
		Order("username ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// GetMultipleBasicInfoByIDs retrieves minimal public user info for a list of user IDs.
func (r *gormUserRepository) GetMultipleBasicInfoByIDs(ctx context.Context, userIDs []uint) (map[uint]models.UserBasicInfo, error) {
	result := make(map[uint]models.UserBasicInfo, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	var infos []models.UserBasicInfo
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "username", "display_name", "avatar_url").
		Where("id IN ?", userIDs).
		Find(&infos).Error
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		result[info.ID] = info
	}
	return result, nil
}

func (r *gormUserRepository) Leaderboard(ctx context.Context, userIDs []uint, limit int) ([]models.User, error) {
	users := make([]models.User, 0)
	q := r.db.WithContext(ctx).Model(&models.User{})
	if userIDs != nil {
		if len(userIDs) == 0 {
			return users, nil
		}
		q = q.Where("id IN ?", userIDs)
	}
	err := q.Order("total_solved DESC").
		Order("contest_rating DESC").
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
