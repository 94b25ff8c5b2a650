package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"cpsocial/internal/auth"
	"cpsocial/internal/config"
	"cpsocial/internal/imtypes"
	"cpsocial/internal/models"
	"cpsocial/internal/storage"
	"cpsocial/internal/testutil"
)

func init() {
	auth.PasswordCost = bcrypt.MinCost
}

type fixture struct {
	db          *gorm.DB
	events      *recordingPublisher
	friendships *friendshipService
	rooms       RoomService
	messages    *messageService
	activities  ActivityService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.TestDB(t)
	log := testutil.TestLogger(t)
	userRepo := storage.NewGormUserRepository(db)
	friendshipRepo := storage.NewGormFriendshipRepository(db)
	roomRepo := storage.NewGormRoomRepository(db)
	events := &recordingPublisher{}

	return &fixture{
		db:          db,
		events:      events,
		friendships: NewFriendshipService(db, userRepo, friendshipRepo, events, config.FriendsConfig{}, log).(*friendshipService),
		rooms:       NewRoomService(db, roomRepo, friendshipRepo, events, log),
		messages:    NewMessageService(db, storage.NewGormMessageRepository(db), roomRepo, friendshipRepo, log).(*messageService),
		activities:  NewActivityService(db, storage.NewGormActivityRepository(db), friendshipRepo),
	}
}

// befriend makes a and b accepted friends.
func (f *fixture) befriend(t *testing.T, a, b *models.User) {
	t.Helper()
	ctx := context.Background()
	edge, err := f.friendships.SendFriendRequest(ctx, a.ID, b.ID)
	require.NoError(t, err)
	_, err = f.friendships.AcceptFriendRequest(ctx, edge.ID, b.ID)
	require.NoError(t, err)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []imtypes.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt imtypes.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	args := m.Called(ctx, key, dst)
	return args.Bool(0), args.Error(1)
}

func (m *mockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *mockCache) Delete(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}
