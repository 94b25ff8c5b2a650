package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"cpsocial/internal/models"
	"cpsocial/internal/sanitize"
	"cpsocial/internal/storage"
)

const (
	// MaxMessageLength is the longest message content accepted, in runes.
	MaxMessageLength = 4000
	maxEmojiLength   = 16
	defaultPageSize  = 50
	maxPageSize      = 100
)

var ErrUserBlocked = newError(KindForbidden, "messaging is blocked between these users")

// CreateMessageInput is what a client supplies to post a message.
type CreateMessageInput struct {
	RoomID    uint
	SenderID  uint
	Type      models.MessageType
	Content   string
	ReplyToID *uint
	Metadata  json.RawMessage
}

// MessageService persists chat messages, reactions and read receipts.
type MessageService interface {
	CreateMessage(ctx context.Context, input CreateMessageInput) (*models.Message, error)
	EditMessage(ctx context.Context, messageID, userID uint, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID, userID uint) (*models.Message, error)
	PinMessage(ctx context.Context, messageID, userID uint, pinned bool) (*models.Message, error)
	AddReaction(ctx context.Context, messageID, userID uint, emoji string) (*models.Message, error)
	RemoveReaction(ctx context.Context, messageID, userID uint, emoji string) (*models.Message, error)
	MarkAsRead(ctx context.Context, roomID, userID, lastMessageID uint) (*models.ReadReceipt, error)
	// RoomOf returns the room of a message userID can see.
	RoomOf(ctx context.Context, messageID, userID uint) (uint, error)
	GetRoomMessages(ctx context.Context, roomID, userID, beforeID uint, limit int) ([]models.Message, error)
}

type messageService struct {
	db             *gorm.DB
	messageRepo    storage.MessageRepository
	roomRepo       storage.RoomRepository
	friendshipRepo storage.FriendshipRepository
	log            *zap.Logger
	now            func() time.Time
}

// NewMessageService 创建一个新的 MessageService 实例。
func NewMessageService(
	db *gorm.DB,
	messageRepo storage.MessageRepository,
	roomRepo storage.RoomRepository,
	friendshipRepo storage.FriendshipRepository,
	log *zap.Logger,
) MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &messageService{
		db:             db,
		messageRepo:    messageRepo,
		roomRepo:       roomRepo,
		friendshipRepo: friendshipRepo,
		log:            log.Named("message"),
		now:            Now,
	}
}

func cleanContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return sanitize.HTML(content), nil
}

// CreateMessage checks membership, then inserts the message and bumps every
// other member's unread counter in one transaction.
func (s *messageService) CreateMessage(ctx context.Context, input CreateMessageInput) (*models.Message, error) {
	if input.Type == "" {
		input.Type = models.MessageTypeText
	}
	if !input.Type.Valid() {
		return nil, ErrInvalidMessageType
	}
	content, err := cleanContent(input.Content)
	if err != nil {
		return nil, err
	}

	room, err := s.roomRepo.GetByID(ctx, input.RoomID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotRoomMember
	}
	if err != nil {
		return nil, fmt.Errorf("读取房间失败: %w", err)
	}
	isMember, err := s.roomRepo.IsMember(ctx, input.RoomID, input.SenderID)
	if err != nil {
		return nil, fmt.Errorf("检查房间成员失败: %w", err)
	}
	if !isMember {
		return nil, ErrNotRoomMember
	}
	if room.Type == models.RoomTypeDirect {
		if err := s.checkNotBlocked(ctx, room.ID, input.SenderID); err != nil {
			return nil, err
		}
	}
	if input.ReplyToID != nil {
		target, err := s.messageRepo.GetByID(ctx, *input.ReplyToID)
		if err != nil || target.RoomID != input.RoomID {
			return nil, ErrInvalidReply
		}
	}

	msg := &models.Message{
		RoomID:    input.RoomID,
		SenderID:  input.SenderID,
		Type:      input.Type,
		Content:   content,
		ReplyToID: input.ReplyToID,
		Metadata:  input.Metadata,
	}
	msg.CreatedAt = s.now()
	msg.UpdatedAt = msg.CreatedAt

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txMessageRepo := storage.NewGormMessageRepository(tx)
		txRoomRepo := storage.NewGormRoomRepository(tx)
		if err := txMessageRepo.Create(ctx, msg); err != nil {
			return fmt.Errorf("保存消息失败: %w", err)
		}
		if err := txRoomRepo.IncrementUnreadExcept(ctx, msg.RoomID, msg.SenderID); err != nil {
			return fmt.Errorf("更新未读数失败: %w", err)
		}
		return txRoomRepo.SetLastMessage(ctx, msg.RoomID, msg.ID)
	})
	if err != nil {
		return nil, err
	}

	return s.messageRepo.GetByID(ctx, msg.ID)
}

func (s *messageService) checkNotBlocked(ctx context.Context, roomID, senderID uint) error {
	members, err := s.roomRepo.ListMemberIDs(ctx, roomID)
	if err != nil {
		return fmt.Errorf("读取房间成员失败: %w", err)
	}
	for _, id := range members {
		if id == senderID {
			continue
		}
		edge, err := s.friendshipRepo.GetByPair(ctx, senderID, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("检查好友关系时出错: %w", err)
		}
		if edge.Status == models.FriendshipBlocked {
			return ErrUserBlocked
		}
	}
	return nil
}

// loadOwned loads a message and checks that userID sent it.
func (s *messageService) loadOwned(ctx context.Context, messageID, userID uint) (*models.Message, error) {
	msg, err := s.loadForMember(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrNotMessageSender
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	return msg, nil
}

// loadForMember loads a message and checks that userID belongs to its room.
func (s *messageService) loadForMember(ctx context.Context, messageID, userID uint) (*models.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取消息失败: %w", err)
	}
	ok, err := s.roomRepo.IsMember(ctx, msg.RoomID, userID)
	if err != nil {
		return nil, fmt.Errorf("检查房间成员失败: %w", err)
	}
	if !ok {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

func (s *messageService) EditMessage(ctx context.Context, messageID, userID uint, content string) (*models.Message, error) {
	content, err := cleanContent(content)
	if err != nil {
		return nil, err
	}
	msg, err := s.loadOwned(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	n, err := s.messageRepo.UpdateLive(ctx, msg.ID, userID, map[string]interface{}{
		"content":    content,
		"is_edited":  true,
		"edited_at":  now,
		"updated_at": now,
	})
	if err != nil {
		return nil, fmt.Errorf("编辑消息失败: %w", err)
	}
	// 读取之后被并发删除
	if n == 0 {
		return nil, ErrMessageDeleted
	}
	msg.Content, msg.IsEdited, msg.EditedAt, msg.UpdatedAt = content, true, &now, now
	return s.withReactions(ctx, msg)
}

// DeleteMessage soft deletes: the row stays with blank content.
func (s *messageService) DeleteMessage(ctx context.Context, messageID, userID uint) (*models.Message, error) {
	msg, err := s.loadOwned(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	n, err := s.messageRepo.UpdateLive(ctx, msg.ID, userID, map[string]interface{}{
		"content":    "",
		"metadata":   nil,
		"is_deleted": true,
		"deleted_at": now,
		"is_pinned":  false,
		"updated_at": now,
	})
	if err != nil {
		return nil, fmt.Errorf("删除消息失败: %w", err)
	}
	if n == 0 {
		return nil, ErrMessageDeleted
	}
	msg.Content, msg.Metadata, msg.IsDeleted, msg.DeletedAt, msg.IsPinned, msg.UpdatedAt = "", nil, true, &now, false, now
	return msg, nil
}

func (s *messageService) PinMessage(ctx context.Context, messageID, userID uint, pinned bool) (*models.Message, error) {
	msg, err := s.loadForMember(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	n, err := s.messageRepo.UpdateLive(ctx, msg.ID, 0, map[string]interface{}{"is_pinned": pinned})
	if err != nil {
		return nil, fmt.Errorf("置顶消息失败: %w", err)
	}
	if n == 0 {
		return nil, ErrMessageDeleted
	}
	msg.IsPinned = pinned
	return s.withReactions(ctx, msg)
}

func validEmoji(emoji string) bool {
	n := utf8.RuneCountInString(emoji)
	return n > 0 && n <= maxEmojiLength && !strings.ContainsAny(emoji, " <>&\"'")
}

// AddReaction is idempotent: reacting twice with the same emoji keeps one row.
func (s *messageService) AddReaction(ctx context.Context, messageID, userID uint, emoji string) (*models.Message, error) {
	if !validEmoji(emoji) {
		return nil, ErrInvalidEmoji
	}
	msg, err := s.loadForMember(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	reaction := &models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: s.now()}
	if err := s.messageRepo.AddReaction(ctx, reaction); err != nil {
		return nil, fmt.Errorf("添加表情回应失败: %w", err)
	}
	return s.withReactions(ctx, msg)
}

// RemoveReaction is idempotent: removing a missing reaction succeeds.
func (s *messageService) RemoveReaction(ctx context.Context, messageID, userID uint, emoji string) (*models.Message, error) {
	msg, err := s.loadForMember(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.messageRepo.RemoveReaction(ctx, messageID, userID, emoji); err != nil {
		return nil, fmt.Errorf("移除表情回应失败: %w", err)
	}
	return s.withReactions(ctx, msg)
}

func (s *messageService) RoomOf(ctx context.Context, messageID, userID uint) (uint, error) {
	msg, err := s.loadForMember(ctx, messageID, userID)
	if err != nil {
		return 0, err
	}
	return msg.RoomID, nil
}

// MarkAsRead advances the read pointer and recounts the unread counter from
// it in one transaction. A non-zero lastMessageID must name a message of the
// room.
func (s *messageService) MarkAsRead(ctx context.Context, roomID, userID, lastMessageID uint) (*models.ReadReceipt, error) {
	ok, err := s.roomRepo.IsMember(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("检查房间成员失败: %w", err)
	}
	if !ok {
		return nil, ErrNotRoomMember
	}
	if lastMessageID != 0 {
		target, err := s.messageRepo.GetByID(ctx, lastMessageID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidReadMarker
		}
		if err != nil {
			return nil, fmt.Errorf("读取消息失败: %w", err)
		}
		if target.RoomID != roomID {
			return nil, ErrInvalidReadMarker
		}
	} else {
		room, err := s.roomRepo.GetByID(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("读取房间失败: %w", err)
		}
		if room.LastMessageID != nil {
			lastMessageID = *room.LastMessageID
		}
	}

	var receipt *models.ReadReceipt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := storage.NewGormMessageRepository(tx).MarkRead(ctx, roomID, userID, lastMessageID, s.now())
		if err != nil {
			return fmt.Errorf("更新已读回执失败: %w", err)
		}
		receipt = r
		return storage.NewGormRoomRepository(tx).RecountUnread(ctx, roomID, userID, r.LastReadMessageID)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetRoomMessages pages backwards through a room's history. The page itself
// is in ascending commit order.
func (s *messageService) GetRoomMessages(ctx context.Context, roomID, userID, beforeID uint, limit int) ([]models.Message, error) {
	ok, err := s.roomRepo.IsMember(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("检查房间成员失败: %w", err)
	}
	if !ok {
		return nil, ErrNotRoomMember
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	messages, err := s.messageRepo.ListByRoom(ctx, roomID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("获取消息列表失败: %w", err)
	}
	ids := make([]uint, 0, len(messages))
	for i := range messages {
		ids = append(ids, messages[i].ID)
	}
	reactions, err := s.messageRepo.ListReactions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("获取表情回应失败: %w", err)
	}
	byMessage := make(map[uint][]models.Reaction)
	for _, r := range reactions {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
	}
	for i := range messages {
		messages[i].Reactions = models.GroupReactions(byMessage[messages[i].ID])
	}
	return messages, nil
}

func (s *messageService) withReactions(ctx context.Context, msg *models.Message) (*models.Message, error) {
	reactions, err := s.messageRepo.ListReactions(ctx, []uint{msg.ID})
	if err != nil {
		return nil, fmt.Errorf("获取表情回应失败: %w", err)
	}
	msg.Reactions = models.GroupReactions(reactions)
	return msg, nil
}
