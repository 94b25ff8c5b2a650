package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cpsocial/internal/models"
)

// MessageRepository 定义了消息数据操作的接口。
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	// ListByRoom returns up to limit messages of a room older than beforeID
	// (0 means newest), in ascending id order.
	ListByRoom(ctx context.Context, roomID, beforeID uint, limit int) ([]models.Message, error)
	// UpdateLive applies fields to a message that is not deleted and, when
	// senderID is non-zero, was sent by senderID. It returns the rows changed.
	UpdateLive(ctx context.Context, id, senderID uint, fields map[string]interface{}) (int64, error)

	AddReaction(ctx context.Context, reaction *models.Reaction) error
	RemoveReaction(ctx context.Context, messageID, userID uint, emoji string) error
	ListReactions(ctx context.Context, messageIDs []uint) ([]models.Reaction, error)

	// MarkRead advances the member's read pointer; it never moves backwards.
	MarkRead(ctx context.Context, roomID, userID, messageID uint, at time.Time) (*models.ReadReceipt, error)
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// Create 在数据库中创建一条新的消息记录。
func (r *gormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Omit("Sender").Create(message).Error
}

// GetByID 通过ID检索消息。
func (r *gormMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Preload("Sender").First(&message, id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *gormMessageRepository) ListByRoom(ctx context.Context, roomID, beforeID uint, limit int) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	query := r.db.WithContext(ctx).Preload("Sender").Where("room_id = ?", roomID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	if err := query.Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	// 倒序查询后翻转为时间正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *gormMessageRepository) UpdateLive(ctx context.Context, id, senderID uint, fields map[string]interface{}) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ? AND is_deleted = ?", id, false)
	if senderID != 0 {
		query = query.Where("sender_id = ?", senderID)
	}
	res := query.Updates(fields)
	return res.RowsAffected, res.Error
}

// AddReaction is idempotent per (message, user, emoji).
func (r *gormMessageRepository) AddReaction(ctx context.Context, reaction *models.Reaction) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}, {Name: "emoji"}},
			DoNothing: true,
		}).
		Create(reaction).Error
}

func (r *gormMessageRepository) RemoveReaction(ctx context.Context, messageID, userID uint, emoji string) error {
	return r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&models.Reaction{}).Error
}

func (r *gormMessageRepository) ListReactions(ctx context.Context, messageIDs []uint) ([]models.Reaction, error) {
	reactions := make([]models.Reaction, 0)
	if len(messageIDs) == 0 {
		return reactions, nil
	}
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("id ASC").
		Find(&reactions).Error
	return reactions, err
}

func (r *gormMessageRepository) MarkRead(ctx context.Context, roomID, userID, messageID uint, at time.Time) (*models.ReadReceipt, error) {
	db := r.db.WithContext(ctx)
	receipt := &models.ReadReceipt{RoomID: roomID, UserID: userID, LastReadMessageID: messageID, ReadAt: at}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(receipt).Error
	if err != nil {
		return nil, err
	}
	err = db.Model(&models.ReadReceipt{}).
		Where("room_id = ? AND user_id = ? AND last_read_message_id < ?", roomID, userID, messageID).
		Updates(map[string]interface{}{"last_read_message_id": messageID, "read_at": at}).Error
	if err != nil {
		return nil, err
	}

	var current models.ReadReceipt
	if err := db.Where("room_id = ? AND user_id = ?", roomID, userID).First(&current).Error; err != nil {
		return nil, err
	}
	return &current, nil
}
