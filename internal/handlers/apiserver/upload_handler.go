package apiserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"cpsocial/internal/handlers/response"
	"cpsocial/internal/imtypes"
)

const (
	defaultMaxMemory = 32 << 20 // 32 MB default max memory for multipart forms
)

// UploadHandler 封装了文件上传相关的 HTTP 处理器方法。
type UploadHandler struct {
	storageService imtypes.StorageService
	maxBytes       int64
	log            *zap.Logger
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。maxBytes <= 0 selects
// the 32 MB default.
func NewUploadHandler(storageService imtypes.StorageService, maxBytes int64, log *zap.Logger) *UploadHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxMemory
	}
	return &UploadHandler{storageService: storageService, maxBytes: maxBytes, log: log}
}

// Upload stores the multipart field "file" and returns where it lives.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	tooLarge := fmt.Sprintf("File too large, the limit is %d MB", h.maxBytes>>20)

	// room for multipart framing around the file
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(w, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		response.Error(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.ValidationError(w, []response.FieldError{{Field: "file", Message: "is required"}})
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		response.Error(w, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || strings.ContainsAny(mimeType, "\r\n") {
		mimeType = "application/octet-stream"
	}

	info, err := h.storageService.UploadFile(r.Context(), file, header.Size, header.Filename, mimeType)
	if errors.Is(err, imtypes.ErrFileTooLarge) {
		response.Error(w, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}
	if err != nil {
		h.log.Error("store upload failed", zap.String("file", header.Filename), zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	response.JSON(w, http.StatusCreated, info)
}
