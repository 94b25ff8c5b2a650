package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"cpsocial/internal/models"
	"cpsocial/internal/sanitize"
	"cpsocial/internal/storage"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	searchCachePrefix  = "search:"
)

// streak lengths that produce a feed entry
var streakMilestones = map[int]bool{7: true, 30: true, 100: true, 365: true}

// ProfileUpdate holds optional profile changes; nil fields are left alone.
type ProfileUpdate struct {
	DisplayName    *string
	AvatarURL      *string
	Bio            *string
	PracticeHandle *string
}

// StatsUpdate is a snapshot of a user's practice statistics.
type StatsUpdate struct {
	EasySolved    int
	MediumSolved  int
	HardSolved    int
	ContestRating int
}

// UserService 定义了用户相关服务的接口。
type UserService interface {
	GetUserProfile(ctx context.Context, userID uint) (*models.User, error)
	UpdateUserProfile(ctx context.Context, userID uint, update ProfileUpdate) (*models.User, error)
	// UpdateStats stores a new stats snapshot, derives the solved total and
	// streak, and records feed entries for progress.
	UpdateStats(ctx context.Context, userID uint, update StatsUpdate) (*models.User, error)
	// SearchUsers matches username or display name. limit is clamped to
	// [1, 50].
	SearchUsers(ctx context.Context, query string, currentUserID uint, limit int) ([]models.UserBasicInfo, error)
	TouchLastSeen(ctx context.Context, userID uint)
}

// userService 是 UserService 的实现。
type userService struct {
	db          *gorm.DB
	userRepo    storage.UserRepository
	leaderboard LeaderboardService
	cache       Cache
	searchTTL   time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(db *gorm.DB, userRepo storage.UserRepository, leaderboard LeaderboardService, cache Cache, searchTTL time.Duration, log *zap.Logger) UserService {
	if cache == nil {
		cache = NoopCache()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &userService{
		db:          db,
		userRepo:    userRepo,
		leaderboard: leaderboard,
		cache:       cache,
		searchTTL:   searchTTL,
		log:         log.Named("user"),
		now:         Now,
	}
}

// GetUserProfile 获取用户公开的个人资料。
func (s *userService) GetUserProfile(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("获取用户 %d 失败: %w", userID, err)
	}
	return user, nil
}

// UpdateUserProfile 更新用户的个人资料。
func (s *userService) UpdateUserProfile(ctx context.Context, userID uint, update ProfileUpdate) (*models.User, error) {
	fields := make(map[string]interface{})
	if update.DisplayName != nil {
		fields["display_name"] = sanitize.HTML(strings.TrimSpace(*update.DisplayName))
	}
	if update.AvatarURL != nil {
		fields["avatar_url"] = strings.TrimSpace(*update.AvatarURL)
	}
	if update.Bio != nil {
		fields["bio"] = sanitize.HTML(strings.TrimSpace(*update.Bio))
	}
	if update.PracticeHandle != nil {
		fields["practice_handle"] = sanitize.Username(*update.PracticeHandle)
	}

	if len(fields) > 0 {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := storage.NewGormUserRepository(tx).UpdateProfile(ctx, userID, fields); err != nil {
				return err
			}
			return recordActivity(ctx, tx, userID, models.ActivityProfileUpdated, 0, nil)
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("更新用户 %d 资料失败: %w", userID, err)
		}
	}
	return s.GetUserProfile(ctx, userID)
}

func (s *userService) UpdateStats(ctx context.Context, userID uint, update StatsUpdate) (*models.User, error) {
	if update.EasySolved < 0 || update.MediumSolved < 0 || update.HardSolved < 0 {
		return nil, newError(KindInvalid, "solved counts cannot be negative")
	}
	user, err := s.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	prev := user.UserStats
	next := models.UserStats{
		EasySolved:    update.EasySolved,
		MediumSolved:  update.MediumSolved,
		HardSolved:    update.HardSolved,
		TotalSolved:   update.EasySolved + update.MediumSolved + update.HardSolved,
		ContestRating: update.ContestRating,
		CurrentStreak: prev.CurrentStreak,
		LongestStreak: prev.LongestStreak,
		LastSolvedAt:  prev.LastSolvedAt,
	}
	solvedDelta := next.TotalSolved - prev.TotalSolved
	next.CurrentStreak, next.LastSolvedAt = advanceStreak(prev, solvedDelta > 0, now)
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := storage.NewGormUserRepository(tx).UpdateStats(ctx, userID, next); err != nil {
			return err
		}
		if solvedDelta > 0 {
			meta := map[string]int{"solved": solvedDelta, "total": next.TotalSolved}
			if err := recordActivity(ctx, tx, userID, models.ActivityProblemsSolved, 0, meta); err != nil {
				return err
			}
		}
		if next.CurrentStreak != prev.CurrentStreak && streakMilestones[next.CurrentStreak] {
			meta := map[string]int{"streak": next.CurrentStreak}
			return recordActivity(ctx, tx, userID, models.ActivityStreakMilestone, 0, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("更新用户 %d 统计失败: %w", userID, err)
	}

	if s.leaderboard != nil {
		s.leaderboard.Invalidate(ctx)
	}
	user.UserStats = next
	return user, nil
}

// advanceStreak computes the streak after a sync at now. Days are UTC
// calendar days.
func advanceStreak(prev models.UserStats, solvedMore bool, now time.Time) (int, *time.Time) {
	today := now.Truncate(24 * time.Hour)
	var lastDay time.Time
	if prev.LastSolvedAt != nil {
		lastDay = prev.LastSolvedAt.UTC().Truncate(24 * time.Hour)
	}

	if !solvedMore {
		if prev.LastSolvedAt == nil || today.Sub(lastDay) > 24*time.Hour {
			return 0, prev.LastSolvedAt
		}
		return prev.CurrentStreak, prev.LastSolvedAt
	}

	switch {
	case prev.LastSolvedAt != nil && lastDay.Equal(today):
		if prev.CurrentStreak == 0 {
			return 1, &now
		}
		return prev.CurrentStreak, &now
	case prev.LastSolvedAt != nil && today.Sub(lastDay) == 24*time.Hour:
		return prev.CurrentStreak + 1, &now
	default:
		return 1, &now
	}
}

// SearchUsers 实现 SearchUsers 方法
func (s *userService) SearchUsers(ctx context.Context, query string, currentUserID uint, limit int) ([]models.UserBasicInfo, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	query = strings.ToLower(sanitize.SearchQuery(query))
	result := make([]models.UserBasicInfo, 0)
	if query == "" {
		return result, nil
	}

	key := searchCachePrefix + strconv.FormatUint(uint64(currentUserID), 10) + ":" + strconv.Itoa(limit) + ":" + query
	hit, err := s.cache.Get(ctx, key, &result)
	if err != nil {
		s.log.Warn("search cache read failed", zap.Error(err))
	} else if hit {
		return result, nil
	}

	users, err := s.userRepo.SearchUsers(ctx, query, currentUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("搜索用户失败: %w", err)
	}
	for i := range users {
		result = append(result, users[i].BasicInfo())
	}
	if s.searchTTL > 0 {
		if err := s.cache.Set(ctx, key, result, s.searchTTL); err != nil {
			s.log.Warn("search cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// TouchLastSeen records activity for presence displays; failures are logged.
func (s *userService) TouchLastSeen(ctx context.Context, userID uint) {
	now := s.now()
	if err := s.userRepo.UpdateProfile(ctx, userID, map[string]interface{}{"last_seen_at": now}); err != nil {
		s.log.Debug("update last seen failed", zap.Uint("user_id", userID), zap.Error(err))
	}
}
