package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cpsocial/internal/models"
	"cpsocial/internal/storage"
)

// Leaderboard scopes.
const (
	ScopeGlobal  = "global"
	ScopeFriends = "friends"
)

const (
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 100
	globalLeaderboardKey    = "leaderboard:global"
)

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank          int                  `json:"rank"`
	User          models.UserBasicInfo `json:"user"`
	TotalSolved   int                  `json:"totalSolved"`
	EasySolved    int                  `json:"easySolved"`
	MediumSolved  int                  `json:"mediumSolved"`
	HardSolved    int                  `json:"hardSolved"`
	ContestRating int                  `json:"contestRating"`
	CurrentStreak int                  `json:"currentStreak"`
}

// LeaderboardService ranks users by solved problems.
type LeaderboardService interface {
	// Leaderboard orders by TotalSolved desc, ContestRating desc, then user id
	// asc so ties are stable.
	Leaderboard(ctx context.Context, userID uint, scope string, limit int) ([]LeaderboardEntry, error)
	// Invalidate drops cached global boards after a stats change.
	Invalidate(ctx context.Context)
}

type leaderboardService struct {
	userRepo       storage.UserRepository
	friendshipRepo storage.FriendshipRepository
	cache          Cache
	ttl            time.Duration
	log            *zap.Logger
}

// NewLeaderboardService creates a LeaderboardService. A nil cache disables
// caching.
func NewLeaderboardService(userRepo storage.UserRepository, friendshipRepo storage.FriendshipRepository, cache Cache, ttl time.Duration, log *zap.Logger) LeaderboardService {
	if cache == nil {
		cache = NoopCache()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &leaderboardService{userRepo: userRepo, friendshipRepo: friendshipRepo, cache: cache, ttl: ttl, log: log.Named("leaderboard")}
}

func (s *leaderboardService) Leaderboard(ctx context.Context, userID uint, scope string, limit int) ([]LeaderboardEntry, error) {
	if scope == "" {
		scope = ScopeGlobal
	}
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	switch scope {
	case ScopeGlobal:
		entries, err := s.globalTop(ctx)
		if err != nil {
			return nil, err
		}
		if len(entries) > limit {
			entries = entries[:limit]
		}
		return entries, nil
	case ScopeFriends:
		ids, err := s.friendshipRepo.GetFriendIDs(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("获取好友列表失败: %w", err)
		}
		users, err := s.userRepo.Leaderboard(ctx, append(ids, userID), limit)
		if err != nil {
			return nil, fmt.Errorf("获取排行榜失败: %w", err)
		}
		return rank(users), nil
	default:
		return nil, ErrInvalidScope
	}
}

// globalTop returns the top maxLeaderboardLimit users, from the cache when
// possible. Smaller limits are served by slicing.
func (s *leaderboardService) globalTop(ctx context.Context) ([]LeaderboardEntry, error) {
	var cached []LeaderboardEntry
	hit, err := s.cache.Get(ctx, globalLeaderboardKey, &cached)
	if err != nil {
		s.log.Warn("leaderboard cache read failed", zap.Error(err))
	} else if hit {
		return cached, nil
	}

	users, err := s.userRepo.Leaderboard(ctx, nil, maxLeaderboardLimit)
	if err != nil {
		return nil, fmt.Errorf("获取排行榜失败: %w", err)
	}
	entries := rank(users)
	if s.ttl > 0 {
		if err := s.cache.Set(ctx, globalLeaderboardKey, entries, s.ttl); err != nil {
			s.log.Warn("leaderboard cache write failed", zap.Error(err))
		}
	}
	return entries, nil
}

func (s *leaderboardService) Invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, globalLeaderboardKey); err != nil {
		s.log.Warn("leaderboard cache invalidation failed", zap.Error(err))
	}
}

func rank(users []models.User) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(users))
	for i := range users {
		u := &users[i]
		entries = append(entries, LeaderboardEntry{
			Rank:          i + 1,
			User:          u.BasicInfo(),
			TotalSolved:   u.TotalSolved,
			EasySolved:    u.EasySolved,
			MediumSolved:  u.MediumSolved,
			HardSolved:    u.HardSolved,
			ContestRating: u.ContestRating,
			CurrentStreak: u.CurrentStreak,
		})
	}
	return entries
}
