package models

import (
	"fmt"
	"time"
)

// RoomType distinguishes one-to-one rooms from group rooms.
type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

// MemberRole is the role of a user inside a room.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

// Room is a chat room. Direct rooms carry a DirectKey derived from the
// canonical user pair so that a pair can only ever have one direct room.
type Room struct {
	BaseModel
	Type          RoomType `gorm:"type:varchar(10);not null;index" json:"type"`
	Name          string   `gorm:"type:varchar(100)" json:"name,omitempty"`
	CreatorID     uint     `gorm:"not null" json:"creatorId"`
	DirectKey     *string  `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	LastMessageID *uint    `json:"lastMessageId,omitempty"`

	Members []RoomMember `gorm:"foreignKey:RoomID" json:"members,omitempty"`
}

// TableName 指定 Room 模型的表名。
func (Room) TableName() string {
	return "rooms"
}

// DirectRoomKey returns the unique key for the direct room between a and b.
func DirectRoomKey(a, b uint) string {
	low, high := CanonicalPair(a, b)
	return fmt.Sprintf("%d:%d", low, high)
}

// RoomMember links a user to a room.
type RoomMember struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	RoomID      uint       `gorm:"not null;uniqueIndex:idx_room_member" json:"roomId"`
	UserID      uint       `gorm:"not null;uniqueIndex:idx_room_member;index" json:"userId"`
	Role        MemberRole `gorm:"type:varchar(10);not null;default:'member'" json:"role"`
	UnreadCount int        `gorm:"not null;default:0" json:"unreadCount"`
	JoinedAt    time.Time  `gorm:"not null" json:"joinedAt"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// TableName 指定 RoomMember 模型的表名。
func (RoomMember) TableName() string {
	return "room_members"
}

// RoomSummary is a room as seen by one member.
type RoomSummary struct {
	Room
	UnreadCount  int             `json:"unreadCount"`
	Participants []UserBasicInfo `json:"participants"`
}
