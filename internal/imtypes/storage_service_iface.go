package imtypes

import (
	"context"
	"errors"
	"io"
)

// ErrFileTooLarge is returned by a StorageService when an upload exceeds its
// size limit.
var ErrFileTooLarge = errors.New("file exceeds maximum upload size")

// StorageService 定义了文件存储操作的接口。
// 将接口定义放在 imtypes 中以打破 storage 和 handlers 之间的循环依赖。
type StorageService interface {
	// UploadFile stores the reader's content and returns where it can be
	// fetched from. fileName is the client supplied name.
	UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*FileInfo, error)
}
