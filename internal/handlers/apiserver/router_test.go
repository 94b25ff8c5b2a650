package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"cpsocial/internal/auth"
	"cpsocial/internal/config"
	"cpsocial/internal/imtypes"
	"cpsocial/internal/ratelimit"
	"cpsocial/internal/services"
	"cpsocial/internal/storage"
	"cpsocial/internal/testutil"
)

func init() {
	auth.PasswordCost = bcrypt.MinCost
}

type recordingSink struct {
	mu     sync.Mutex
	events []imtypes.RoomEvent
}

func (s *recordingSink) PublishRoomEvent(_ context.Context, evt imtypes.RoomEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

type apiTest struct {
	t        *testing.T
	db       *gorm.DB
	router   *mux.Router
	messages services.MessageService
	sink     *recordingSink
}

func newAPITest(t *testing.T, rules map[ratelimit.Class]ratelimit.Rule) *apiTest {
	t.Helper()
	db := testutil.TestDB(t)
	log := testutil.TestLogger(t)

	userRepo := storage.NewGormUserRepository(db)
	friendshipRepo := storage.NewGormFriendshipRepository(db)
	roomRepo := storage.NewGormRoomRepository(db)
	authCfg := config.AuthConfig{JWTSecretKey: "test-secret", JWTExpiry: time.Hour, CookieName: "session"}
	storageCfg := config.StorageConfig{LocalPath: t.TempDir(), BaseURL: "/uploads", MaxFileSizeMB: 1}
	files, err := storage.NewLocalStorageService(storageCfg)
	require.NoError(t, err)

	leaderboard := services.NewLeaderboardService(userRepo, friendshipRepo, nil, 0, log)
	messages := services.NewMessageService(db, storage.NewGormMessageRepository(db), roomRepo, friendshipRepo, log)
	sink := &recordingSink{}

	var limiter *ratelimit.Limiter
	if rules != nil {
		limiter = ratelimit.New(ratelimit.NewMemoryStore(), rules, log)
	}

	router := NewRouter(Deps{
		Auth:        services.NewAuthService(userRepo, auth.NewMemoryBlacklist(), authCfg, log),
		Users:       services.NewUserService(db, userRepo, leaderboard, nil, 0, log),
		Friendships: services.NewFriendshipService(db, userRepo, friendshipRepo, nil, config.FriendsConfig{}, log),
		Rooms:       services.NewRoomService(db, roomRepo, friendshipRepo, nil, log),
		Messages:    messages,
		Activities:  services.NewActivityService(db, storage.NewGormActivityRepository(db), friendshipRepo),
		Leaderboard: leaderboard,
		Storage:     files,
		Limiter:     limiter,
		RoomEvents:  sink,
		AuthCfg:     authCfg,
		StorageCfg:  storageCfg,
		Log:         log,
	})
	return &apiTest{t: t, db: db, router: router, messages: messages, sink: sink}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"details"`
}

func (a *apiTest) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "198.51.100.7:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

// signup registers and logs in a user, returning the token and id.
func (a *apiTest) signup(username string) (string, uint) {
	a.t.Helper()
	rec, _ := a.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": username, "email": username + "@example.com", "password": "password123",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := a.do(http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": "password123"})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	var login struct {
		Token string `json:"token"`
		User  struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	require.NoError(a.t, json.Unmarshal(env.Data, &login))
	return login.Token, login.User.ID
}

func (a *apiTest) befriend(fromToken, toToken string, toID uint) {
	a.t.Helper()
	rec, env := a.do(http.MethodPost, "/api/v1/friends/requests", fromToken, map[string]uint{"addresseeId": toID})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var edge struct {
		ID uint `json:"id"`
	}
	require.NoError(a.t, json.Unmarshal(env.Data, &edge))
	rec, _ = a.do(http.MethodPost, fmt.Sprintf("/api/v1/friends/requests/%d/accept", edge.ID), toToken, nil)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	a := newAPITest(t, nil)
	rec, env := a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestUnauthorizedEnvelope(t *testing.T) {
	a := newAPITest(t, nil)
	for _, path := range []string{"/api/v1/users/me", "/api/users/search?q=a", "/api/leaderboard", "/api/v1/rooms"} {
		rec, _ := a.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, rec.Body.String(), path)
	}
}

func TestRegisterValidation(t *testing.T) {
	a := newAPITest(t, nil)

	rec, env := a.do(http.MethodPost, "/auth/register", "", map[string]string{"username": "ab", "email": "nope", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	fields := map[string]bool{}
	for _, d := range env.Details {
		fields[d.Field] = true
	}
	assert.True(t, fields["username"])
	assert.True(t, fields["email"])
	assert.True(t, fields["password"])

	a.signup("tourist")
	rec, env = a.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": "tourist", "email": "t2@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, services.ErrUserAlreadyExists.Error(), env.Error)

	rec, _ = a.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "tourist", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	a := newAPITest(t, nil)
	token, _ := a.signup("petr")

	rec, _ := a.do(http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = a.do(http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = a.do(http.MethodGet, "/api/v1/users/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFriendshipFlow(t *testing.T) {
	a := newAPITest(t, nil)
	aliceToken, aliceID := a.signup("alice")
	bobToken, bobID := a.signup("bob")
	_, carolID := a.signup("carol")

	rec, _ := a.do(http.MethodPost, "/api/v1/friends/requests", aliceToken, map[string]uint{"addresseeId": aliceID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.befriend(aliceToken, bobToken, bobID)

	rec, _ = a.do(http.MethodPost, "/api/v1/friends/requests", bobToken, map[string]uint{"addresseeId": aliceID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env := a.do(http.MethodGet, "/api/v1/friends", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var friends []struct {
		FriendID uint `json:"friendId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &friends))
	require.Len(t, friends, 1)
	assert.Equal(t, bobID, friends[0].FriendID)

	rec, _ = a.do(http.MethodPost, "/api/v1/friends/requests/999/accept", bobToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = a.do(http.MethodDelete, fmt.Sprintf("/api/v1/friends/%d", carolID), aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = a.do(http.MethodDelete, fmt.Sprintf("/api/v1/friends/%d", bobID), aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoomsAndMessages(t *testing.T) {
	a := newAPITest(t, nil)
	aliceToken, aliceID := a.signup("alice")
	bobToken, bobID := a.signup("bob")
	malloryToken, _ := a.signup("mallory")
	a.befriend(aliceToken, bobToken, bobID)

	rec, env := a.do(http.MethodPost, "/api/v1/rooms/direct", aliceToken, map[string]uint{"userId": bobID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var room struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &room))

	msg, err := a.messages.CreateMessage(context.Background(), services.CreateMessageInput{RoomID: room.ID, SenderID: aliceID, Content: "gl hf"})
	require.NoError(t, err)

	rec, env = a.do(http.MethodGet, fmt.Sprintf("/api/v1/rooms/%d/messages", room.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page []struct {
		ID      uint   `json:"id"`
		Content string `json:"content"`
		Sender  struct {
			Username string `json:"username"`
		} `json:"sender"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page, 1)
	assert.Equal(t, "alice", page[0].Sender.Username)

	rec, _ = a.do(http.MethodGet, fmt.Sprintf("/api/v1/rooms/%d/messages", room.ID), malloryToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = a.do(http.MethodPatch, fmt.Sprintf("/api/v1/messages/%d", msg.ID), bobToken, map[string]string{"content": "edited"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = a.do(http.MethodPatch, fmt.Sprintf("/api/v1/messages/%d", msg.ID), aliceToken, map[string]string{"content": "edited"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.do(http.MethodPost, fmt.Sprintf("/api/v1/messages/%d/reactions", msg.ID), bobToken, map[string]string{"emoji": "+1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reactions imtypes.ReactionUpdatedPayload
	require.NoError(t, json.Unmarshal(env.Data, &reactions))
	require.Len(t, reactions.Reactions, 1)
	assert.Equal(t, 1, reactions.Reactions[0].Count)

	rec, _ = a.do(http.MethodDelete, fmt.Sprintf("/api/v1/messages/%d/reactions/+1", msg.ID), bobToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.do(http.MethodGet, "/api/v1/rooms", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rooms []struct {
		UnreadCount int `json:"unreadCount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].UnreadCount)

	rec, _ = a.do(http.MethodPost, fmt.Sprintf("/api/v1/rooms/%d/read", room.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, env = a.do(http.MethodGet, "/api/v1/rooms", bobToken, nil)
	require.NoError(t, json.Unmarshal(env.Data, &rooms))
	assert.Equal(t, 0, rooms[0].UnreadCount)

	var events []string
	for _, e := range a.sink.events {
		assert.Equal(t, room.ID, e.RoomID)
		assert.Equal(t, apiOrigin, e.Origin)
		events = append(events, e.Envelope.Event)
	}
	assert.Equal(t, []string{
		imtypes.EventMessageEdited,
		imtypes.EventReactionUpdated,
		imtypes.EventReactionUpdated,
		imtypes.EventReadReceipt,
	}, events)
}

func TestSearchLeaderboardAndFeed(t *testing.T) {
	a := newAPITest(t, nil)
	aliceToken, _ := a.signup("alice")
	bobToken, bobID := a.signup("bob")
	a.signup("bobby")
	a.befriend(aliceToken, bobToken, bobID)

	rec, _ := a.do(http.MethodPut, "/api/v1/users/me/stats", bobToken, map[string]int{"easySolved": 5, "hardSolved": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = a.do(http.MethodPut, "/api/v1/users/me/stats", bobToken, map[string]int{"easySolved": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, path := range []string{"/api/users/search?q=bob", "/api/v1/users/search?q=bob&limit=500"} {
		rec, env := a.do(http.MethodGet, path, aliceToken, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		var users []struct {
			Username string `json:"username"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &users))
		assert.Len(t, users, 2, path)
	}

	rec, env := a.do(http.MethodGet, "/api/leaderboard?scope=friends", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var board []services.LeaderboardEntry
	require.NoError(t, json.Unmarshal(env.Data, &board))
	require.Len(t, board, 2)
	assert.Equal(t, "bob", board[0].User.Username)
	assert.Equal(t, 7, board[0].TotalSolved)

	rec, _ = a.do(http.MethodGet, "/api/v1/leaderboard?scope=universe", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = a.do(http.MethodGet, "/api/activities?filter=friends", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed []struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &feed))
	types := make([]string, 0, len(feed))
	for _, item := range feed {
		types = append(types, item.Type)
	}
	assert.Contains(t, types, "problems_solved")
}

func TestAuthRateLimit(t *testing.T) {
	a := newAPITest(t, map[ratelimit.Class]ratelimit.Rule{ratelimit.ClassAuth: {Window: 15 * time.Minute, Max: 5}})
	for i := 0; i < 5; i++ {
		rec, _ := a.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "x", "password": "y"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, env := a.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "x", "password": "y"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestUpload(t *testing.T) {
	a := newAPITest(t, nil)
	token, _ := a.signup("alice")

	post := func(content []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", "solution.cpp")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, req)
		return rec
	}

	rec := post([]byte("int main() {}"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var info imtypes.FileInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "solution.cpp", info.FileName)
	assert.EqualValues(t, 13, info.Size)
	assert.Equal(t, "file", info.MessageType)

	get := httptest.NewRequest(http.MethodGet, info.URL, nil)
	getRec := httptest.NewRecorder()
	a.router.ServeHTTP(getRec, get)
	assert.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "int main() {}", getRec.Body.String())

	rec = post(bytes.Repeat([]byte("x"), 1<<20+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
