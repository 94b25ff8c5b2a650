package imtypes

import (
	"encoding/json"
	"time"

	"cpsocial/internal/models"
)

// Envelope is the frame exchanged over the realtime connection in both
// directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope for event.
func NewEnvelope(event string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Client to server events.
const (
	EventAuthenticate   = "authenticate"
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventEditMessage    = "edit_message"
	EventDeleteMessage  = "delete_message"
	EventAddReaction    = "add_reaction"
	EventRemoveReaction = "remove_reaction"
	EventMarkRead       = "mark_read"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
)

// Server to client events.
const (
	EventAuthenticated     = "authenticated"
	EventRoomJoined        = "room_joined"
	EventRoomLeft          = "room_left"
	EventNewMessage        = "new_message"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventReactionUpdated   = "reaction_updated"
	EventReadReceipt       = "read_receipt"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventPresence          = "presence"
	EventNotification      = "notification"
	EventError             = "error"
)

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type AuthenticatedPayload struct {
	Success  bool   `json:"success"`
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
}

// RoomPayload carries just a room id (join_room, leave_room, typing_*).
type RoomPayload struct {
	RoomID uint `json:"roomId"`
}

type SendMessagePayload struct {
	RoomID    uint               `json:"roomId"`
	Content   string             `json:"content"`
	Type      models.MessageType `json:"type,omitempty"`
	ReplyToID *uint              `json:"replyToId,omitempty"`
	Metadata  json.RawMessage    `json:"metadata,omitempty"`
	// ClientID is echoed back on new_message so the sender can match its
	// optimistic copy.
	ClientID string `json:"clientId,omitempty"`
	// UserID is accepted for compatibility; it must equal the authenticated user.
	UserID uint `json:"userId,omitempty"`
}

type EditMessagePayload struct {
	MessageID uint   `json:"messageId"`
	Content   string `json:"content"`
}

type MessageRefPayload struct {
	MessageID uint `json:"messageId"`
}

type ReactionPayload struct {
	MessageID uint   `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type MarkReadPayload struct {
	RoomID    uint `json:"roomId"`
	MessageID uint `json:"messageId"`
}

type NewMessagePayload struct {
	models.MessageView
	ClientID string `json:"clientId,omitempty"`
}

type MessageDeletedPayload struct {
	RoomID    uint `json:"roomId"`
	MessageID uint `json:"messageId"`
}

type ReactionUpdatedPayload struct {
	RoomID    uint                   `json:"roomId"`
	MessageID uint                   `json:"messageId"`
	Reactions []models.ReactionGroup `json:"reactions"`
}

type ReadReceiptPayload struct {
	RoomID            uint      `json:"roomId"`
	UserID            uint      `json:"userId"`
	LastReadMessageID uint      `json:"lastReadMessageId"`
	ReadAt            time.Time `json:"readAt"`
}

type TypingPayload struct {
	RoomID   uint   `json:"roomId"`
	UserID   uint   `json:"userId"`
	Username string `json:"username,omitempty"`
}

type PresencePayload struct {
	RoomID uint `json:"roomId"`
	UserID uint `json:"userId"`
	Online bool `json:"online"`
}

type RoomJoinedPayload struct {
	RoomID      uint   `json:"roomId"`
	OnlineUsers []uint `json:"onlineUsers"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// Domain event types published by the API server.
const (
	DomainFriendRequestSent     = "friend_request.sent"
	DomainFriendRequestAccepted = "friend_request.accepted"
	DomainFriendRequestRejected = "friend_request.rejected"
	DomainFriendRemoved         = "friend.removed"
	DomainUserBlocked           = "user.blocked"
	DomainRoomMemberAdded       = "room.member_added"
	DomainRoomMemberRemoved     = "room.member_removed"
)

// DomainEvent is something that happened outside the realtime gateway that
// connected users should hear about.
type DomainEvent struct {
	Type     string    `json:"type"`
	ActorID  uint      `json:"actorId"`
	TargetID uint      `json:"targetId"`
	ObjectID uint      `json:"objectId,omitempty"`
	At       time.Time `json:"at"`
}

// RoomEvent is a persisted room event relayed between gateway instances.
type RoomEvent struct {
	Origin   string   `json:"origin"`
	RoomID   uint     `json:"roomId"`
	Envelope Envelope `json:"envelope"`
}
