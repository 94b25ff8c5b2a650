package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"cpsocial/internal/config"
	"cpsocial/internal/imtypes"
)

// ErrFileTooLarge is returned when an upload exceeds the configured limit.
var ErrFileTooLarge = imtypes.ErrFileTooLarge

// LocalStorageService 实现了 imtypes.StorageService 接口，把附件写到本地磁盘。
type LocalStorageService struct {
	basePath string
	baseURL  string
	maxBytes int64
}

// NewLocalStorageService creates the upload directory if needed.
func NewLocalStorageService(cfg config.StorageConfig) (*LocalStorageService, error) {
	if err := os.MkdirAll(cfg.LocalPath, 0o755); err != nil {
		return nil, fmt.Errorf("创建本地存储目录失败 '%s': %w", cfg.LocalPath, err)
	}
	return &LocalStorageService{
		basePath: cfg.LocalPath,
		baseURL:  cfg.BaseURL,
		maxBytes: cfg.MaxFileSizeMB << 20,
	}, nil
}

// BasePath is the directory files are written to.
func (s *LocalStorageService) BasePath() string {
	return s.basePath
}

// UploadFile 将文件保存到本地文件系统。
func (s *LocalStorageService) UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*imtypes.FileInfo, error) {
	if s.maxBytes > 0 && fileSize > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		if extensions, _ := mime.ExtensionsByType(mimeType); len(extensions) > 0 {
			ext = extensions[0]
		}
	}
	storedName := uuid.New().String() + ext
	dstPath := filepath.Join(s.basePath, storedName)

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("创建目标文件失败 '%s': %w", dstPath, err)
	}
	defer dst.Close()

	// Copy one byte past the limit so oversize bodies with a lying size are caught.
	src := reader
	if s.maxBytes > 0 {
		src = io.LimitReader(reader, s.maxBytes+1)
	}
	written, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("写入文件失败: %w", err)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		os.Remove(dstPath)
		return nil, ErrFileTooLarge
	}
	if fileSize > 0 && written != fileSize {
		os.Remove(dstPath)
		return nil, fmt.Errorf("文件大小不匹配: 预期 %d, 实际写入 %d", fileSize, written)
	}

	return &imtypes.FileInfo{
		URL:         strings.TrimSuffix(s.baseURL, "/") + "/" + url.PathEscape(storedName),
		Path:        dstPath,
		Size:        written,
		MimeType:    mimeType,
		FileName:    filepath.Base(fileName),
		MessageType: imtypes.AttachmentMessageType(mimeType),
	}, nil
}
