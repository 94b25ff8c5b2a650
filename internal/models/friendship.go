package models

import "time"

// FriendshipStatus is the state of a friendship edge.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship is a directed request edge between a requester and an addressee.
// UserLowID/UserHighID hold the same pair in canonical order; their unique
// index guarantees at most one edge per unordered pair.
type Friendship struct {
	ID          uint             `gorm:"primarykey" json:"id"`
	RequesterID uint             `gorm:"not null;index" json:"requesterId"`
	AddresseeID uint             `gorm:"not null;index" json:"addresseeId"`
	UserLowID   uint             `gorm:"not null;uniqueIndex:idx_friendship_pair" json:"-"`
	UserHighID  uint             `gorm:"not null;uniqueIndex:idx_friendship_pair" json:"-"`
	Status      FriendshipStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	BlockedBy   *uint            `json:"blockedBy,omitempty"`
	RequestedAt time.Time        `gorm:"not null" json:"requestedAt"`
	RespondedAt *time.Time       `json:"respondedAt,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt"`

	Requester User `gorm:"foreignKey:RequesterID" json:"-"`
	Addressee User `gorm:"foreignKey:AddresseeID" json:"-"`
}

// TableName 指定 Friendship 模型的表名。
func (Friendship) TableName() string {
	return "friendships"
}

// EnsureCanonicalOrder fills UserLowID/UserHighID from the directed pair.
// It must be called before creating a Friendship record.
func (f *Friendship) EnsureCanonicalOrder() {
	f.UserLowID, f.UserHighID = CanonicalPair(f.RequesterID, f.AddresseeID)
}

// OtherUser returns the side of the edge that is not userID.
func (f *Friendship) OtherUser(userID uint) uint {
	if f.RequesterID == userID {
		return f.AddresseeID
	}
	return f.RequesterID
}

// CanonicalPair orders two user ids ascending.
func CanonicalPair(a, b uint) (uint, uint) {
	if a > b {
		return b, a
	}
	return a, b
}

// FriendSummary is a directional edge normalised from one user's side.
type FriendSummary struct {
	FriendID uint          `json:"friendId"`
	Since    time.Time     `json:"since"`
	Friend   UserBasicInfo `json:"friend"`
}

// FriendRequestWithUser is a pending edge together with the other party.
type FriendRequestWithUser struct {
	Friendship
	User UserBasicInfo `json:"user"`
}
