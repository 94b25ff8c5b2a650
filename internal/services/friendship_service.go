package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"cpsocial/internal/config"
	"cpsocial/internal/imtypes"
	"cpsocial/internal/models"
	"cpsocial/internal/storage"
)

// FriendshipService runs the friendship state machine:
//
//	(none) --send--> pending --accept--> accepted --remove--> (none)
//	                 pending --reject--> rejected
//	any state --block--> blocked
type FriendshipService interface {
	SendFriendRequest(ctx context.Context, requesterID, addresseeID uint) (*models.Friendship, error)
	AcceptFriendRequest(ctx context.Context, friendshipID, addresseeID uint) (*models.Friendship, error)
	RejectFriendRequest(ctx context.Context, friendshipID, addresseeID uint) (*models.Friendship, error)
	RemoveFriend(ctx context.Context, userID, friendID uint) error
	BlockUser(ctx context.Context, userID, targetID uint) error
	AreFriends(ctx context.Context, userID1, userID2 uint) (bool, error)
	GetFriendIDs(ctx context.Context, userID uint) ([]uint, error)
	GetUserFriends(ctx context.Context, userID uint) ([]models.FriendSummary, error)
	GetPendingFriendRequests(ctx context.Context, userID uint) ([]models.FriendRequestWithUser, error)
	GetSentFriendRequests(ctx context.Context, userID uint) ([]models.FriendRequestWithUser, error)
}

type friendshipService struct {
	db             *gorm.DB
	userRepo       storage.UserRepository
	friendshipRepo storage.FriendshipRepository
	events         EventPublisher
	cfg            config.FriendsConfig
	log            *zap.Logger
	now            func() time.Time
}

// NewFriendshipService creates a new FriendshipService instance.
func NewFriendshipService(
	db *gorm.DB,
	userRepo storage.UserRepository,
	friendshipRepo storage.FriendshipRepository,
	events EventPublisher,
	cfg config.FriendsConfig,
	log *zap.Logger,
) FriendshipService {
	if events == nil {
		events = NoopPublisher()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &friendshipService{
		db:             db,
		userRepo:       userRepo,
		friendshipRepo: friendshipRepo,
		events:         events,
		cfg:            cfg,
		log:            log.Named("friendship"),
		now:            Now,
	}
}

// SendFriendRequest creates a pending edge from requester to addressee. The
// insert is conflict aware, so two concurrent requests between the same pair
// (in either direction) produce exactly one edge.
func (s *friendshipService) SendFriendRequest(ctx context.Context, requesterID, addresseeID uint) (*models.Friendship, error) {
	if requesterID == addresseeID {
		return nil, ErrSelfFriendRequest
	}
	exists, err := s.userRepo.Exists(ctx, addresseeID)
	if err != nil {
		return nil, fmt.Errorf("检查接收用户时出错: %w", err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	now := s.now()
	edge := &models.Friendship{
		RequesterID: requesterID,
		AddresseeID: addresseeID,
		Status:      models.FriendshipPending,
		RequestedAt: now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFriendshipRepo := storage.NewGormFriendshipRepository(tx)

		inserted, err := txFriendshipRepo.CreateIfAbsent(ctx, edge)
		if err != nil {
			return fmt.Errorf("创建好友请求失败: %w", err)
		}
		if !inserted {
			existing, err := txFriendshipRepo.GetByPair(ctx, requesterID, addresseeID)
			if err != nil {
				return fmt.Errorf("读取现有好友关系失败: %w", err)
			}
			reopened, err := s.reopenRejected(ctx, txFriendshipRepo, existing, requesterID, addresseeID, now)
			if err != nil {
				return err
			}
			if !reopened {
				if existing.Status == models.FriendshipAccepted {
					return ErrAlreadyFriends
				}
				return ErrFriendshipExists
			}
			existing.RequesterID, existing.AddresseeID = requesterID, addresseeID
			existing.Status = models.FriendshipPending
			existing.RequestedAt, existing.RespondedAt, existing.UpdatedAt = now, nil, now
			*edge = *existing
		}
		return recordActivity(ctx, tx, requesterID, models.ActivityFriendRequestSent, addresseeID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, imtypes.DomainFriendRequestSent, requesterID, addresseeID, edge.ID)
	return edge, nil
}

// reopenRejected turns an old rejected edge back into a pending request when
// the configured cooldown has passed.
func (s *friendshipService) reopenRejected(ctx context.Context, repo storage.FriendshipRepository, existing *models.Friendship, requesterID, addresseeID uint, now time.Time) (bool, error) {
	if existing.Status != models.FriendshipRejected || s.cfg.RerequestCooldown <= 0 {
		return false, nil
	}
	n, err := repo.Reopen(ctx, existing.ID, requesterID, addresseeID, now.Add(-s.cfg.RerequestCooldown), now)
	if err != nil {
		return false, fmt.Errorf("重新打开好友请求失败: %w", err)
	}
	return n == 1, nil
}

func (s *friendshipService) AcceptFriendRequest(ctx context.Context, friendshipID, addresseeID uint) (*models.Friendship, error) {
	edge, err := s.respond(ctx, friendshipID, addresseeID, models.FriendshipAccepted)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, imtypes.DomainFriendRequestAccepted, addresseeID, edge.RequesterID, edge.ID)
	return edge, nil
}

func (s *friendshipService) RejectFriendRequest(ctx context.Context, friendshipID, addresseeID uint) (*models.Friendship, error) {
	edge, err := s.respond(ctx, friendshipID, addresseeID, models.FriendshipRejected)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, imtypes.DomainFriendRequestRejected, addresseeID, edge.RequesterID, edge.ID)
	return edge, nil
}

// respond performs pending -> status for the edge addressed to addresseeID.
// Edges that do not exist or belong to someone else are reported as not
// found, so callers cannot discover other users' requests.
func (s *friendshipService) respond(ctx context.Context, friendshipID, addresseeID uint, status models.FriendshipStatus) (*models.Friendship, error) {
	var edge *models.Friendship
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFriendshipRepo := storage.NewGormFriendshipRepository(tx)

		now := s.now()
		n, err := txFriendshipRepo.Respond(ctx, friendshipID, addresseeID, status, now)
		if err != nil {
			return fmt.Errorf("更新好友请求状态失败: %w", err)
		}

		current, err := txFriendshipRepo.GetByID(ctx, friendshipID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFriendshipNotFound
		}
		if err != nil {
			return fmt.Errorf("检索好友请求失败: %w", err)
		}
		if n == 0 {
			if current.AddresseeID != addresseeID {
				return ErrFriendshipNotFound
			}
			return ErrFriendshipNotPending
		}
		edge = current

		if status == models.FriendshipAccepted {
			if err := recordActivity(ctx, tx, current.AddresseeID, models.ActivityFriendAdded, current.RequesterID, nil); err != nil {
				return err
			}
			return recordActivity(ctx, tx, current.RequesterID, models.ActivityFriendAdded, current.AddresseeID, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// RemoveFriend deletes an accepted edge. Pending, rejected and blocked edges
// are left alone.
func (s *friendshipService) RemoveFriend(ctx context.Context, userID, friendID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := storage.NewGormFriendshipRepository(tx).DeleteAccepted(ctx, userID, friendID)
		if err != nil {
			return fmt.Errorf("删除好友关系失败: %w", err)
		}
		if n == 0 {
			return ErrNotFriends
		}
		return recordActivity(ctx, tx, userID, models.ActivityFriendRemoved, friendID, nil)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, imtypes.DomainFriendRemoved, userID, friendID, 0)
	return nil
}

// BlockUser moves the pair to blocked from any state, creating the edge if
// needed. Blocked is terminal: no further requests between the pair succeed.
func (s *friendshipService) BlockUser(ctx context.Context, userID, targetID uint) error {
	if userID == targetID {
		return ErrSelfBlock
	}
	exists, err := s.userRepo.Exists(ctx, targetID)
	if err != nil {
		return fmt.Errorf("检查用户时出错: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}
	if err := s.friendshipRepo.UpsertBlocked(ctx, userID, targetID, s.now()); err != nil {
		return fmt.Errorf("屏蔽用户失败: %w", err)
	}
	s.publish(ctx, imtypes.DomainUserBlocked, userID, targetID, 0)
	return nil
}

func (s *friendshipService) AreFriends(ctx context.Context, userID1, userID2 uint) (bool, error) {
	return s.friendshipRepo.AreUsersFriends(ctx, userID1, userID2)
}

func (s *friendshipService) GetFriendIDs(ctx context.Context, userID uint) ([]uint, error) {
	return s.friendshipRepo.GetFriendIDs(ctx, userID)
}

// GetUserFriends lists accepted edges from userID's side with the friend's
// profile attached.
func (s *friendshipService) GetUserFriends(ctx context.Context, userID uint) ([]models.FriendSummary, error) {
	edges, err := s.friendshipRepo.ListAccepted(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取好友列表失败: %w", err)
	}

	ids := make([]uint, 0, len(edges))
	for i := range edges {
		ids = append(ids, edges[i].OtherUser(userID))
	}
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("获取好友信息失败: %w", err)
	}

	friends := make([]models.FriendSummary, 0, len(edges))
	for i := range edges {
		friendID := edges[i].OtherUser(userID)
		since := edges[i].RequestedAt
		if edges[i].RespondedAt != nil {
			since = *edges[i].RespondedAt
		}
		friends = append(friends, models.FriendSummary{
			FriendID: friendID,
			Since:    since,
			Friend:   infos[friendID],
		})
	}
	return friends, nil
}

// GetPendingFriendRequests lists incoming pending requests with the
// requester's profile.
func (s *friendshipService) GetPendingFriendRequests(ctx context.Context, userID uint) ([]models.FriendRequestWithUser, error) {
	edges, err := s.friendshipRepo.ListIncomingPending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取待处理好友请求失败: %w", err)
	}
	return s.withOtherUser(ctx, userID, edges)
}

// GetSentFriendRequests lists outgoing pending requests with the addressee's
// profile.
func (s *friendshipService) GetSentFriendRequests(ctx context.Context, userID uint) ([]models.FriendRequestWithUser, error) {
	edges, err := s.friendshipRepo.ListOutgoingPending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取已发送好友请求失败: %w", err)
	}
	return s.withOtherUser(ctx, userID, edges)
}

func (s *friendshipService) withOtherUser(ctx context.Context, userID uint, edges []models.Friendship) ([]models.FriendRequestWithUser, error) {
	ids := make([]uint, 0, len(edges))
	for i := range edges {
		ids = append(ids, edges[i].OtherUser(userID))
	}
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("获取用户信息失败: %w", err)
	}
	result := make([]models.FriendRequestWithUser, 0, len(edges))
	for i := range edges {
		result = append(result, models.FriendRequestWithUser{
			Friendship: edges[i],
			User:       infos[edges[i].OtherUser(userID)],
		})
	}
	return result, nil
}

func (s *friendshipService) publish(ctx context.Context, eventType string, actorID, targetID, objectID uint) {
	evt := imtypes.DomainEvent{Type: eventType, ActorID: actorID, TargetID: targetID, ObjectID: objectID, At: s.now()}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.Warn("publish domain event failed", zap.String("type", eventType), zap.Error(err))
	}
}

// recordActivity appends a feed entry using db, which may be a transaction.
func recordActivity(ctx context.Context, db *gorm.DB, userID uint, activityType models.ActivityType, targetID uint, metadata interface{}) error {
	activity := &models.Activity{UserID: userID, Type: activityType, CreatedAt: Now()}
	if targetID != 0 {
		activity.TargetID = &targetID
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		activity.Metadata = raw
	}
	if err := storage.NewGormActivityRepository(db).Create(ctx, activity); err != nil {
		return fmt.Errorf("记录动态失败: %w", err)
	}
	return nil
}
