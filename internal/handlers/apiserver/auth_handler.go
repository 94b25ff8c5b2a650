package apiserver

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"cpsocial/internal/handlers/response"
	"cpsocial/internal/middleware"
	"cpsocial/internal/models"
	"cpsocial/internal/services"
)

// AuthHandler 封装了认证相关的 HTTP 处理器方法。
type AuthHandler struct {
	authService services.AuthService
	cookieName  string
	tokenTTL    time.Duration
	log         *zap.Logger
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService services.AuthService, cookieName string, tokenTTL time.Duration, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, cookieName: cookieName, tokenTTL: tokenTTL, log: log}
}

// RegisterRequest 是用户注册请求的结构体。
type RegisterRequest struct {
	Username       string `json:"username" validate:"required,min=3,max=32"`
	Email          string `json:"email" validate:"required,email,max=255"`
	Password       string `json:"password" validate:"required,min=8,max=72"`
	DisplayName    string `json:"displayName" validate:"max=64"`
	PracticeHandle string `json:"practiceHandle" validate:"max=64"`
}

// LoginRequest 是用户登录请求的结构体。
type LoginRequest struct {
	Username string `json:"username" validate:"required"` // 可以是用户名或邮箱
	Password string `json:"password" validate:"required"`
}

// LoginResponse 是成功登录后返回的结构体。
type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register 处理用户注册请求。
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.authService.Register(r.Context(), services.RegisterInput{
		Username:       req.Username,
		Email:          req.Email,
		Password:       req.Password,
		DisplayName:    req.DisplayName,
		PracticeHandle: req.PracticeHandle,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusCreated, user)
}

// Login 处理用户登录请求。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, user, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if h.cookieName != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.cookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(h.tokenTTL.Seconds()),
		})
	}
	response.JSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

// Logout 将当前 Token 加入黑名单。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w)
		return
	}
	if err := h.authService.Logout(r.Context(), claims); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if h.cookieName != "" {
		http.SetCookie(w, &http.Cookie{Name: h.cookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
