package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpsocial/internal/auth"
	"cpsocial/internal/config"
	"cpsocial/internal/storage"
	"cpsocial/internal/testutil"
)

func newAuthService(t *testing.T) AuthService {
	t.Helper()
	db := testutil.TestDB(t)
	cfg := config.AuthConfig{JWTSecretKey: "test-secret", JWTExpiry: time.Hour}
	return NewAuthService(storage.NewGormUserRepository(db), auth.NewMemoryBlacklist(), cfg, testutil.TestLogger(t))
}

func TestRegister(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{
		Username:    "tourist",
		Email:       "Tourist@Example.com",
		Password:    "s3cret-pass",
		DisplayName: "<i>T</i>",
	})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "tourist@example.com", user.Email)
	assert.Equal(t, "&lt;i&gt;T&lt;/i&gt;", user.DisplayName)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Username: "tourist", Email: "other@example.com", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
	_, err = svc.Register(ctx, RegisterInput{Username: "other", Email: "tourist@example.com", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	_, err = svc.Register(ctx, RegisterInput{Username: "user@123!", Email: "x@example.com", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, ErrInvalidUsername)
}

func TestLoginLogout(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Username: "petr", Email: "petr@example.com", Password: "hunter22"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "petr", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, user, err := svc.Login(ctx, "PETR@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "petr", user.Username)

	claims, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	require.NoError(t, svc.Logout(ctx, claims))
	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)
}
