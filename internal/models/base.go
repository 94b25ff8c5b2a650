package models

import "time"

// BaseModel defines the common fields for all models.
// Rows are never soft deleted through GORM: friendships are removed for real
// so the unique pair index frees up, and messages carry their own flag.
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
