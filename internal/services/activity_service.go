package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"cpsocial/internal/models"
	"cpsocial/internal/storage"
)

// Feed filters.
const (
	FeedAll     = "all"
	FeedFriends = "friends"
	FeedMine    = "mine"
)

const maxFeedLimit = 100

// ActivityService records and reads the activity feed.
type ActivityService interface {
	Record(ctx context.Context, userID uint, activityType models.ActivityType, targetID uint, metadata interface{}) error
	// Feed returns activities newest first. "all" is the caller plus friends,
	// "friends" excludes the caller, "mine" is only the caller.
	Feed(ctx context.Context, userID uint, filter string, limit int) ([]models.ActivityView, error)
}

type activityService struct {
	db             *gorm.DB
	activityRepo   storage.ActivityRepository
	friendshipRepo storage.FriendshipRepository
}

// NewActivityService creates a new ActivityService instance.
func NewActivityService(db *gorm.DB, activityRepo storage.ActivityRepository, friendshipRepo storage.FriendshipRepository) ActivityService {
	return &activityService{db: db, activityRepo: activityRepo, friendshipRepo: friendshipRepo}
}

func (s *activityService) Record(ctx context.Context, userID uint, activityType models.ActivityType, targetID uint, metadata interface{}) error {
	return recordActivity(ctx, s.db, userID, activityType, targetID, metadata)
}

func (s *activityService) Feed(ctx context.Context, userID uint, filter string, limit int) ([]models.ActivityView, error) {
	if filter == "" {
		filter = FeedAll
	}
	if limit <= 0 || limit > maxFeedLimit {
		limit = defaultPageSize
	}

	var authors []uint
	switch filter {
	case FeedMine:
		authors = []uint{userID}
	case FeedAll, FeedFriends:
		friendIDs, err := s.friendshipRepo.GetFriendIDs(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("获取好友列表失败: %w", err)
		}
		authors = friendIDs
		if filter == FeedAll {
			authors = append(authors, userID)
		}
	default:
		return nil, ErrInvalidFilter
	}

	activities, err := s.activityRepo.ListByUsers(ctx, authors, limit)
	if err != nil {
		return nil, fmt.Errorf("获取动态失败: %w", err)
	}
	views := make([]models.ActivityView, 0, len(activities))
	for i := range activities {
		views = append(views, models.ActivityView{Activity: activities[i], User: activities[i].User.BasicInfo()})
	}
	return views, nil
}
