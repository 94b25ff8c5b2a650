package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"cpsocial/internal/imtypes"
	"cpsocial/internal/models"
	"cpsocial/internal/sanitize"
	"cpsocial/internal/storage"
)

// MaxGroupRoomMembers caps the size of a group room.
const MaxGroupRoomMembers = 100

var (
	ErrRoomNameRequired = newError(KindInvalid, "room name is required")
	ErrRoomFull         = newError(KindConflict, "room is full")
	ErrNotFriendsRoom   = newError(KindForbidden, "direct rooms require an accepted friendship")
	ErrSelfDirectRoom   = newError(KindInvalid, "cannot open a direct room with yourself")
)

// RoomService manages direct and group rooms and their membership.
type RoomService interface {
	GetOrCreateDirectRoom(ctx context.Context, userID, otherUserID uint) (*models.Room, error)
	CreateGroupRoom(ctx context.Context, ownerID uint, name string, memberIDs []uint) (*models.Room, error)
	InviteMember(ctx context.Context, roomID, inviterID, userID uint) error
	LeaveRoom(ctx context.Context, roomID, userID uint) error
	ListUserRooms(ctx context.Context, userID uint) ([]models.RoomSummary, error)
	IsMember(ctx context.Context, roomID, userID uint) (bool, error)
	// RequireMember returns ErrNotRoomMember unless userID belongs to roomID.
	RequireMember(ctx context.Context, roomID, userID uint) error
	MemberIDs(ctx context.Context, roomID uint) ([]uint, error)
}

type roomService struct {
	db             *gorm.DB
	roomRepo       storage.RoomRepository
	friendshipRepo storage.FriendshipRepository
	events         EventPublisher
	log            *zap.Logger
}

// NewRoomService creates a new RoomService instance.
func NewRoomService(db *gorm.DB, roomRepo storage.RoomRepository, friendshipRepo storage.FriendshipRepository, events EventPublisher, log *zap.Logger) RoomService {
	if events == nil {
		events = NoopPublisher()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &roomService{db: db, roomRepo: roomRepo, friendshipRepo: friendshipRepo, events: events, log: log.Named("room")}
}

// GetOrCreateDirectRoom returns the single direct room of the pair, creating
// it on first use. Only accepted friends may open one.
func (s *roomService) GetOrCreateDirectRoom(ctx context.Context, userID, otherUserID uint) (*models.Room, error) {
	if userID == otherUserID {
		return nil, ErrSelfDirectRoom
	}
	friends, err := s.friendshipRepo.AreUsersFriends(ctx, userID, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("检查好友关系时出错: %w", err)
	}
	if !friends {
		return nil, ErrNotFriendsRoom
	}

	key := models.DirectRoomKey(userID, otherUserID)
	var room *models.Room
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRoomRepo := storage.NewGormRoomRepository(tx)
		candidate := &models.Room{Type: models.RoomTypeDirect, CreatorID: userID, DirectKey: &key}
		inserted, err := txRoomRepo.CreateDirectIfAbsent(ctx, candidate)
		if err != nil {
			return fmt.Errorf("创建私聊房间失败: %w", err)
		}
		if !inserted {
			existing, err := txRoomRepo.GetByDirectKey(ctx, key)
			if err != nil {
				return fmt.Errorf("读取私聊房间失败: %w", err)
			}
			room = existing
			return nil
		}
		for _, id := range []uint{userID, otherUserID} {
			if _, err := txRoomRepo.AddMember(ctx, &models.RoomMember{RoomID: candidate.ID, UserID: id, Role: models.RoleMember}); err != nil {
				return fmt.Errorf("添加房间成员失败: %w", err)
			}
		}
		room = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// CreateGroupRoom creates a group owned by ownerID. Members must be friends
// of the owner; unknown or non-friend ids are skipped.
func (s *roomService) CreateGroupRoom(ctx context.Context, ownerID uint, name string, memberIDs []uint) (*models.Room, error) {
	name = strings.TrimSpace(sanitize.HTML(name))
	if name == "" {
		return nil, ErrRoomNameRequired
	}
	if len(memberIDs)+1 > MaxGroupRoomMembers {
		return nil, ErrRoomFull
	}

	friendIDs, err := s.friendshipRepo.GetFriendIDs(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("获取好友列表失败: %w", err)
	}
	isFriend := make(map[uint]bool, len(friendIDs))
	for _, id := range friendIDs {
		isFriend[id] = true
	}

	room := &models.Room{Type: models.RoomTypeGroup, Name: name, CreatorID: ownerID}
	var added []uint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRoomRepo := storage.NewGormRoomRepository(tx)
		if err := txRoomRepo.Create(ctx, room); err != nil {
			return fmt.Errorf("创建群聊失败: %w", err)
		}
		if _, err := txRoomRepo.AddMember(ctx, &models.RoomMember{RoomID: room.ID, UserID: ownerID, Role: models.RoleOwner}); err != nil {
			return fmt.Errorf("添加群主失败: %w", err)
		}
		for _, id := range memberIDs {
			if !isFriend[id] {
				continue
			}
			ok, err := txRoomRepo.AddMember(ctx, &models.RoomMember{RoomID: room.ID, UserID: id, Role: models.RoleMember})
			if err != nil {
				return fmt.Errorf("添加群成员失败: %w", err)
			}
			if ok {
				added = append(added, id)
			}
		}
		return recordActivity(ctx, tx, ownerID, models.ActivityRoomCreated, room.ID, map[string]string{"name": name})
	})
	if err != nil {
		return nil, err
	}

	for _, id := range added {
		s.publish(ctx, imtypes.DomainRoomMemberAdded, ownerID, id, room.ID)
	}
	return room, nil
}

// InviteMember adds a friend of the inviter to a group room the inviter
// belongs to.
func (s *roomService) InviteMember(ctx context.Context, roomID, inviterID, userID uint) error {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("读取房间失败: %w", err)
	}
	if err := s.RequireMember(ctx, roomID, inviterID); err != nil {
		return err
	}
	if room.Type == models.RoomTypeDirect {
		return ErrDirectRoomInvite
	}
	friends, err := s.friendshipRepo.AreUsersFriends(ctx, inviterID, userID)
	if err != nil {
		return fmt.Errorf("检查好友关系时出错: %w", err)
	}
	if !friends {
		return ErrNotFriends
	}
	members, err := s.roomRepo.ListMemberIDs(ctx, roomID)
	if err != nil {
		return fmt.Errorf("读取房间成员失败: %w", err)
	}
	if len(members) >= MaxGroupRoomMembers {
		return ErrRoomFull
	}

	added, err := s.roomRepo.AddMember(ctx, &models.RoomMember{RoomID: roomID, UserID: userID, Role: models.RoleMember})
	if err != nil {
		return fmt.Errorf("添加群成员失败: %w", err)
	}
	if added {
		s.publish(ctx, imtypes.DomainRoomMemberAdded, inviterID, userID, roomID)
	}
	return nil
}

// LeaveRoom removes userID from a group room.
func (s *roomService) LeaveRoom(ctx context.Context, roomID, userID uint) error {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("读取房间失败: %w", err)
	}
	if room.Type == models.RoomTypeDirect {
		return ErrDirectRoomLeave
	}
	n, err := s.roomRepo.RemoveMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("退出房间失败: %w", err)
	}
	if n == 0 {
		return ErrNotRoomMember
	}
	// 通知网关断开该用户在房间内的连接
	s.publish(ctx, imtypes.DomainRoomMemberRemoved, userID, userID, roomID)
	return nil
}

// ListUserRooms lists the rooms of userID with per-room unread counts.
func (s *roomService) ListUserRooms(ctx context.Context, userID uint) ([]models.RoomSummary, error) {
	memberships, err := s.roomRepo.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取房间列表失败: %w", err)
	}
	unread := make(map[uint]int, len(memberships))
	ids := make([]uint, 0, len(memberships))
	for _, m := range memberships {
		unread[m.RoomID] = m.UnreadCount
		ids = append(ids, m.RoomID)
	}

	rooms, err := s.roomRepo.ListRoomsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("获取房间列表失败: %w", err)
	}
	summaries := make([]models.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		participants := make([]models.UserBasicInfo, 0, len(room.Members))
		for i := range room.Members {
			participants = append(participants, room.Members[i].User.BasicInfo())
		}
		room.Members = nil
		summaries = append(summaries, models.RoomSummary{
			Room:         room,
			UnreadCount:  unread[room.ID],
			Participants: participants,
		})
	}
	return summaries, nil
}

func (s *roomService) IsMember(ctx context.Context, roomID, userID uint) (bool, error) {
	return s.roomRepo.IsMember(ctx, roomID, userID)
}

func (s *roomService) RequireMember(ctx context.Context, roomID, userID uint) error {
	ok, err := s.roomRepo.IsMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("检查房间成员失败: %w", err)
	}
	if !ok {
		return ErrNotRoomMember
	}
	return nil
}

func (s *roomService) MemberIDs(ctx context.Context, roomID uint) ([]uint, error) {
	return s.roomRepo.ListMemberIDs(ctx, roomID)
}

func (s *roomService) publish(ctx context.Context, eventType string, actorID, userID, roomID uint) {
	evt := imtypes.DomainEvent{Type: eventType, ActorID: actorID, TargetID: userID, ObjectID: roomID, At: Now()}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.Warn("publish domain event failed", zap.String("type", evt.Type), zap.Error(err))
	}
}
