package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cpsocial/internal/models"
)

// RoomRepository defines the interface for rooms and their members.
type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	// CreateDirectIfAbsent inserts room unless a room with the same DirectKey
	// exists. It reports whether a row was inserted.
	CreateDirectIfAbsent(ctx context.Context, room *models.Room) (bool, error)
	GetByID(ctx context.Context, id uint) (*models.Room, error)
	GetByDirectKey(ctx context.Context, key string) (*models.Room, error)
	SetLastMessage(ctx context.Context, roomID, messageID uint) error

	AddMember(ctx context.Context, member *models.RoomMember) (bool, error)
	RemoveMember(ctx context.Context, roomID, userID uint) (int64, error)
	GetMember(ctx context.Context, roomID, userID uint) (*models.RoomMember, error)
	IsMember(ctx context.Context, roomID, userID uint) (bool, error)
	ListMemberIDs(ctx context.Context, roomID uint) ([]uint, error)
	ListMemberships(ctx context.Context, userID uint) ([]models.RoomMember, error)
	ListRoomsByIDs(ctx context.Context, roomIDs []uint) ([]models.Room, error)
	IncrementUnreadExcept(ctx context.Context, roomID, userID uint) error
	// RecountUnread sets the member's unread counter to the number of messages
	// from others after afterID.
	RecountUnread(ctx context.Context, roomID, userID, afterID uint) error
}

type gormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository creates a new GORM-based RoomRepository.
func NewGormRoomRepository(db *gorm.DB) RoomRepository {
	return &gormRoomRepository{db: db}
}

func (r *gormRoomRepository) Create(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Omit("Members").Create(room).Error
}

func (r *gormRoomRepository) CreateDirectIfAbsent(ctx context.Context, room *models.Room) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "direct_key"}},
			DoNothing: true,
		}).
		Omit("Members").
		Create(room)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRoomRepository) GetByID(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *gormRoomRepository) GetByDirectKey(ctx context.Context, key string) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).Where("direct_key = ?", key).First(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *gormRoomRepository) SetLastMessage(ctx context.Context, roomID, messageID uint) error {
	return r.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", roomID).
		Updates(map[string]interface{}{"last_message_id": messageID, "updated_at": time.Now().UTC()}).Error
}

// AddMember inserts member unless the user is already in the room.
func (r *gormRoomRepository) AddMember(ctx context.Context, member *models.RoomMember) (bool, error) {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Omit("User").
		Create(member)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRoomRepository) RemoveMember(ctx context.Context, roomID, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&models.RoomMember{})
	return res.RowsAffected, res.Error
}

func (r *gormRoomRepository) GetMember(ctx context.Context, roomID, userID uint) (*models.RoomMember, error) {
	var m models.RoomMember
	err := r.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRoomRepository) IsMember(ctx context.Context, roomID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRoomRepository) ListMemberIDs(ctx context.Context, roomID uint) ([]uint, error) {
	ids := make([]uint, 0)
	err := r.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ?", roomID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *gormRoomRepository) ListMemberships(ctx context.Context, userID uint) ([]models.RoomMember, error) {
	members := make([]models.RoomMember, 0)
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&members).Error
	return members, err
}

// ListRoomsByIDs returns the rooms with their members, most recently active
// first.
func (r *gormRoomRepository) ListRoomsByIDs(ctx context.Context, roomIDs []uint) ([]models.Room, error) {
	rooms := make([]models.Room, 0)
	if len(roomIDs) == 0 {
		return rooms, nil
	}
	err := r.db.WithContext(ctx).
		Preload("Members.User").
		Where("id IN ?", roomIDs).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&rooms).Error
	return rooms, err
}

func (r *gormRoomRepository) IncrementUnreadExcept(ctx context.Context, roomID, userID uint) error {
	return r.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id <> ?", roomID, userID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error
}

func (r *gormRoomRepository) RecountUnread(ctx context.Context, roomID, userID, afterID uint) error {
	db := r.db.WithContext(ctx)
	unread := db.Model(&models.Message{}).
		Select("COUNT(*)").
		Where("room_id = ? AND id > ? AND sender_id <> ?", roomID, afterID, userID)
	return db.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		UpdateColumn("unread_count", unread).Error
}
