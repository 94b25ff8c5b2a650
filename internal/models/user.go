package models

import "time"

// User is one account. Stats are denormalised onto the row so leaderboards
// are a single ordered query.
type User struct {
	BaseModel
	Username       string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	PasswordHash   string     `gorm:"type:varchar(255);not null" json:"-"`
	Email          string     `gorm:"type:varchar(100);uniqueIndex" json:"email,omitempty"`
	DisplayName    string     `gorm:"type:varchar(100)" json:"displayName,omitempty"`
	AvatarURL      string     `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	Bio            string     `gorm:"type:text" json:"bio,omitempty"`
	PracticeHandle string     `gorm:"type:varchar(100);index" json:"practiceHandle,omitempty"`
	LastSeenAt     *time.Time `json:"lastSeenAt,omitempty"`

	UserStats `gorm:"embedded"`
}

// UserStats are the aggregate practice statistics synced from the linked
// practice site.
type UserStats struct {
	EasySolved    int        `gorm:"default:0" json:"easySolved"`
	MediumSolved  int        `gorm:"default:0" json:"mediumSolved"`
	HardSolved    int        `gorm:"default:0" json:"hardSolved"`
	TotalSolved   int        `gorm:"default:0;index" json:"totalSolved"`
	ContestRating int        `gorm:"default:0" json:"contestRating"`
	CurrentStreak int        `gorm:"default:0" json:"currentStreak"`
	LongestStreak int        `gorm:"default:0" json:"longestStreak"`
	LastSolvedAt  *time.Time `json:"lastSolvedAt,omitempty"`
}

// UserBasicInfo holds minimal public information about a user.
// Used wherever another user is embedded in a response (message sender,
// friend list, pending request).
type UserBasicInfo struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// BasicInfo projects u onto its public fields.
func (u *User) BasicInfo() UserBasicInfo {
	return UserBasicInfo{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}
