package imtypes

import "strings"

// FileInfo describes a stored attachment. MessageType is the message type a
// client should use when sending it to a room: "image" or "file".
type FileInfo struct {
	URL         string `json:"url"`
	Path        string `json:"-"` // location on the storage backend
	Size        int64  `json:"size"`
	MimeType    string `json:"mimeType"`
	FileName    string `json:"fileName"`
	MessageType string `json:"messageType"`
}

// AttachmentMessageType maps a MIME type to the message type used to share it.
func AttachmentMessageType(mimeType string) string {
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return "image"
	}
	return "file"
}
