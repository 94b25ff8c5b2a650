package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"cpsocial/internal/auth"
	"cpsocial/internal/config"
	"cpsocial/internal/models"
	"cpsocial/internal/sanitize"
	"cpsocial/internal/storage"
)

var ErrInvalidUsername = newError(KindInvalid, "username may only contain letters, digits, '_' and '-'")

// RegisterInput carries the fields of a sign-up request.
type RegisterInput struct {
	Username       string
	Email          string
	Password       string
	DisplayName    string
	PracticeHandle string
}

// AuthService 定义了用户认证服务的接口。
type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*models.User, error)
	Login(ctx context.Context, usernameOrEmail, password string) (token string, user *models.User, err error)
	// Logout revokes the token identified by claims until it would have
	// expired anyway.
	Logout(ctx context.Context, claims *auth.Claims) error
	// Authenticate validates a token and returns its claims.
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
}

// authService 是 AuthService 的实现。
type authService struct {
	userRepo  storage.UserRepository
	blacklist auth.TokenBlacklist
	cfg       config.AuthConfig
	log       *zap.Logger
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(userRepo storage.UserRepository, blacklist auth.TokenBlacklist, cfg config.AuthConfig, log *zap.Logger) AuthService {
	if blacklist == nil {
		blacklist = auth.NewMemoryBlacklist()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &authService{userRepo: userRepo, blacklist: blacklist, cfg: cfg, log: log.Named("auth")}
}

// Register 处理用户注册逻辑。
func (s *authService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || sanitize.Username(username) != username {
		return nil, ErrInvalidUsername
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))

	_, err := s.userRepo.GetByUsername(ctx, username)
	if err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("检查用户名时出错: %w", err)
	}
	_, err = s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("检查邮箱时出错: %w", err)
	}

	hashedPassword, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("密码哈希失败: %w", err)
	}

	newUser := &models.User{
		Username:       username,
		Email:          email,
		PasswordHash:   hashedPassword,
		DisplayName:    sanitize.HTML(strings.TrimSpace(input.DisplayName)),
		PracticeHandle: sanitize.Username(input.PracticeHandle),
	}
	if err := s.userRepo.Create(ctx, newUser); err != nil {
		// a concurrent registration may win the unique index
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}
	return newUser, nil
}

// Login 处理用户登录逻辑。
func (s *authService) Login(ctx context.Context, usernameOrEmail, password string) (string, *models.User, error) {
	identifier := strings.TrimSpace(usernameOrEmail)
	user, err := s.userRepo.GetByUsername(ctx, identifier)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user, err = s.userRepo.GetByEmail(ctx, strings.ToLower(identifier))
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// same error as a bad password so usernames cannot be enumerated
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("查找用户失败: %w", err)
	}

	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(user.ID, user.Username, s.cfg)
	if err != nil {
		return "", nil, fmt.Errorf("生成令牌失败: %w", err)
	}
	return token, user, nil
}

func (s *authService) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	if err := s.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("吊销令牌失败: %w", err)
	}
	return nil
}

func (s *authService) Authenticate(ctx context.Context, token string) (*auth.Claims, error) {
	return auth.ValidateToken(ctx, token, s.cfg.JWTSecretKey, s.blacklist)
}
