package models

import "time"

// ReadReceipt tracks how far a member has read a room. LastReadMessageID only
// moves forward.
type ReadReceipt struct {
	ID                uint      `gorm:"primarykey" json:"-"`
	RoomID            uint      `gorm:"not null;uniqueIndex:idx_read_receipt" json:"roomId"`
	UserID            uint      `gorm:"not null;uniqueIndex:idx_read_receipt" json:"userId"`
	LastReadMessageID uint      `gorm:"not null" json:"lastReadMessageId"`
	ReadAt            time.Time `gorm:"not null" json:"readAt"`
}

func (ReadReceipt) TableName() string {
	return "read_receipts"
}
