package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"cpsocial/internal/handlers/response"
	"cpsocial/internal/services"
)

// UserHandler 封装了用户相关的 HTTP 处理器方法。
type UserHandler struct {
	userService services.UserService
	log         *zap.Logger
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService services.UserService, log *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, log: log}
}

// GetMe 处理获取当前登录用户信息的请求。
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.userService.GetUserProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, user)
}

// UpdateProfileRequest 是更新用户信息的请求结构体。Omitted fields are left
// unchanged.
type UpdateProfileRequest struct {
	DisplayName    *string `json:"displayName" validate:"omitnil,max=64"`
	AvatarURL      *string `json:"avatarUrl" validate:"omitnil,max=512"`
	Bio            *string `json:"bio" validate:"omitnil,max=500"`
	PracticeHandle *string `json:"practiceHandle" validate:"omitnil,max=64"`
}

// UpdateMe 处理更新当前登录用户信息的请求。
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.userService.UpdateUserProfile(r.Context(), userID, services.ProfileUpdate{
		DisplayName:    req.DisplayName,
		AvatarURL:      req.AvatarURL,
		Bio:            req.Bio,
		PracticeHandle: req.PracticeHandle,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, user)
}

// UpdateStatsRequest carries a practice stats snapshot.
type UpdateStatsRequest struct {
	EasySolved    int `json:"easySolved" validate:"min=0"`
	MediumSolved  int `json:"mediumSolved" validate:"min=0"`
	HardSolved    int `json:"hardSolved" validate:"min=0"`
	ContestRating int `json:"contestRating" validate:"min=0"`
}

func (h *UserHandler) UpdateStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req UpdateStatsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.userService.UpdateStats(r.Context(), userID, services.StatsUpdate{
		EasySolved:    req.EasySolved,
		MediumSolved:  req.MediumSolved,
		HardSolved:    req.HardSolved,
		ContestRating: req.ContestRating,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, user)
}

// GetUser 处理获取指定用户公开信息的请求。
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	callerID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	user, err := h.userService.GetUserProfile(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if id != callerID {
		user.Email = ""
	}
	response.JSON(w, http.StatusOK, user)
}

// Search 处理搜索用户的请求。?q= is required; ?limit= defaults to 10.
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		q = r.URL.Query().Get("query")
	}
	users, err := h.userService.SearchUsers(r.Context(), q, userID, queryInt(r, "limit", 0))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, users)
}
