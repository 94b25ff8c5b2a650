package models

import (
	"encoding/json"
	"time"
)

// ActivityType names something a user did.
type ActivityType string

const (
	ActivityFriendRequestSent ActivityType = "friend_request_sent"
	ActivityFriendAdded       ActivityType = "friend_added"
	ActivityFriendRemoved     ActivityType = "friend_removed"
	ActivityProblemsSolved    ActivityType = "problems_solved"
	ActivityStreakMilestone   ActivityType = "streak_milestone"
	ActivityRoomCreated       ActivityType = "room_created"
	ActivityProfileUpdated    ActivityType = "profile_updated"
)

// Activity is one append-only feed entry.
type Activity struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	UserID    uint            `gorm:"not null;index" json:"userId"`
	Type      ActivityType    `gorm:"type:varchar(40);not null" json:"type"`
	TargetID  *uint           `json:"targetId,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `gorm:"index" json:"createdAt"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (Activity) TableName() string {
	return "activities"
}

// ActivityView is an activity with its author's public profile.
type ActivityView struct {
	Activity
	User UserBasicInfo `json:"user"`
}
