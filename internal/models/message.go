package models

import (
	"encoding/json"
	"time"
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeCode   MessageType = "code"
	MessageTypeSystem MessageType = "system" // 用于系统通知
)

// Valid reports whether t is a type clients may send.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeCode:
		return true
	}
	return false
}

// Message is a chat message stored in a room.
// Deleting a message sets IsDeleted and blanks Content; the row stays so
// replies and ordering remain intact.
type Message struct {
	BaseModel
	RoomID   uint        `gorm:"index;not null" json:"roomId"`
	SenderID uint        `gorm:"index;not null" json:"senderId"`
	Type     MessageType `gorm:"type:varchar(20);not null" json:"type"`
	Content  string      `gorm:"type:text" json:"content"`

	// Metadata holds type specific data: file name, size, code language.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	ReplyToID *uint      `json:"replyToId,omitempty"`
	IsEdited  bool       `gorm:"not null;default:false" json:"isEdited"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	IsDeleted bool       `gorm:"not null;default:false" json:"isDeleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	IsPinned  bool       `gorm:"not null;default:false" json:"isPinned"`

	Sender    User            `gorm:"foreignKey:SenderID" json:"-"`
	Reactions []ReactionGroup `gorm:"-" json:"reactions,omitempty"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// FileMetadata stores metadata for file and image messages.
type FileMetadata struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url"`
}

// CodeMetadata stores metadata for code snippet messages.
type CodeMetadata struct {
	Language string `json:"language"`
}

// SetMetadata helper to set metadata
func (m *Message) SetMetadata(data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.Metadata = jsonData
	return nil
}

// GetFileMetadata decodes the metadata of a file or image message.
func (m *Message) GetFileMetadata() (*FileMetadata, error) {
	if (m.Type != MessageTypeFile && m.Type != MessageTypeImage) || len(m.Metadata) == 0 {
		return nil, nil
	}
	var metadata FileMetadata
	if err := json.Unmarshal(m.Metadata, &metadata); err != nil {
		return nil, err
	}
	return &metadata, nil
}

// MessageView is the message shape sent to clients, with the sender profile
// inlined.
type MessageView struct {
	Message
	Sender UserBasicInfo `json:"sender"`
}

// View builds the client representation of m.
func (m *Message) View() MessageView {
	return MessageView{Message: *m, Sender: m.Sender.BasicInfo()}
}
