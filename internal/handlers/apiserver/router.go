package apiserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cpsocial/internal/config"
	"cpsocial/internal/handlers/response"
	"cpsocial/internal/imtypes"
	"cpsocial/internal/middleware"
	"cpsocial/internal/ratelimit"
	"cpsocial/internal/services"
)

// Deps is everything the API router needs. Limiter, Proxies, RoomEvents,
// Storage and Ping are optional.
type Deps struct {
	Auth        services.AuthService
	Users       services.UserService
	Friendships services.FriendshipService
	Rooms       services.RoomService
	Messages    services.MessageService
	Activities  services.ActivityService
	Leaderboard services.LeaderboardService
	Storage     imtypes.StorageService
	Limiter     *ratelimit.Limiter
	Proxies     *middleware.TrustedProxies
	RoomEvents  RoomEventSink
	Ping        func(ctx context.Context) error

	AuthCfg    config.AuthConfig
	StorageCfg config.StorageConfig
	Log        *zap.Logger
}

// NewRouter wires every HTTP route.
func NewRouter(d Deps) *mux.Router {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")

	authHandler := NewAuthHandler(d.Auth, d.AuthCfg.CookieName, d.AuthCfg.JWTExpiry, log)
	userHandler := NewUserHandler(d.Users, log)
	friendHandler := NewFriendshipHandler(d.Friendships, log)
	roomHandler := NewRoomHandler(d.Rooms, d.Messages, d.RoomEvents, log)
	messageHandler := NewMessageHandler(d.Messages, d.RoomEvents, log)
	feedHandler := NewFeedHandler(d.Activities, d.Leaderboard, log)

	requireAuth := middleware.Auth(d.Auth, d.AuthCfg.CookieName)
	limit := func(class ratelimit.Class, h http.Handler) http.Handler {
		if d.Limiter == nil {
			return h
		}
		return middleware.RateLimit(d.Limiter, class, d.Proxies)(h)
	}
	public := func(class ratelimit.Class, fn http.HandlerFunc) http.Handler {
		return limit(class, fn)
	}
	protected := func(class ratelimit.Class, fn http.HandlerFunc) http.Handler {
		return limit(class, requireAuth(fn))
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.HandleFunc("/healthz", healthHandler(d.Ping)).Methods(http.MethodGet)

	for _, prefix := range []string{"/auth", "/api/v1/auth"} {
		r.Handle(prefix+"/register", public(ratelimit.ClassAuth, authHandler.Register)).Methods(http.MethodPost)
		r.Handle(prefix+"/login", public(ratelimit.ClassAuth, authHandler.Login)).Methods(http.MethodPost)
	}
	r.Handle("/api/v1/auth/logout", protected(ratelimit.ClassAPI, authHandler.Logout)).Methods(http.MethodPost)

	for _, prefix := range []string{"/api", "/api/v1"} {
		r.Handle(prefix+"/users/search", protected(ratelimit.ClassAPI, userHandler.Search)).Methods(http.MethodGet)
		r.Handle(prefix+"/activities", protected(ratelimit.ClassAPI, feedHandler.Activities)).Methods(http.MethodGet)
		r.Handle(prefix+"/leaderboard", protected(ratelimit.ClassAPI, feedHandler.Leaderboard)).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/users/me", protected(ratelimit.ClassAPI, userHandler.GetMe)).Methods(http.MethodGet)
	v1.Handle("/users/me", protected(ratelimit.ClassAPI, userHandler.UpdateMe)).Methods(http.MethodPut)
	v1.Handle("/users/me/stats", protected(ratelimit.ClassAPI, userHandler.UpdateStats)).Methods(http.MethodPut)
	v1.Handle("/users/{userId:[0-9]+}", protected(ratelimit.ClassAPI, userHandler.GetUser)).Methods(http.MethodGet)

	v1.Handle("/friends", protected(ratelimit.ClassAPI, friendHandler.ListFriends)).Methods(http.MethodGet)
	v1.Handle("/friends/requests", protected(ratelimit.ClassAPI, friendHandler.ListIncoming)).Methods(http.MethodGet)
	v1.Handle("/friends/requests/sent", protected(ratelimit.ClassAPI, friendHandler.ListSent)).Methods(http.MethodGet)
	v1.Handle("/friends/requests", protected(ratelimit.ClassStrict, friendHandler.SendRequest)).Methods(http.MethodPost)
	v1.Handle("/friends/requests/{id:[0-9]+}/accept", protected(ratelimit.ClassAPI, friendHandler.Accept)).Methods(http.MethodPost)
	v1.Handle("/friends/requests/{id:[0-9]+}/reject", protected(ratelimit.ClassAPI, friendHandler.Reject)).Methods(http.MethodPost)
	v1.Handle("/friends/{friendId:[0-9]+}", protected(ratelimit.ClassAPI, friendHandler.Remove)).Methods(http.MethodDelete)
	v1.Handle("/friends/{userId:[0-9]+}/block", protected(ratelimit.ClassStrict, friendHandler.Block)).Methods(http.MethodPost)

	v1.Handle("/rooms", protected(ratelimit.ClassAPI, roomHandler.List)).Methods(http.MethodGet)
	v1.Handle("/rooms/direct", protected(ratelimit.ClassAPI, roomHandler.OpenDirect)).Methods(http.MethodPost)
	v1.Handle("/rooms/group", protected(ratelimit.ClassStrict, roomHandler.CreateGroup)).Methods(http.MethodPost)
	v1.Handle("/rooms/{id:[0-9]+}/members", protected(ratelimit.ClassAPI, roomHandler.Invite)).Methods(http.MethodPost)
	v1.Handle("/rooms/{id:[0-9]+}/leave", protected(ratelimit.ClassAPI, roomHandler.Leave)).Methods(http.MethodPost)
	v1.Handle("/rooms/{id:[0-9]+}/messages", protected(ratelimit.ClassAPI, roomHandler.Messages)).Methods(http.MethodGet)
	v1.Handle("/rooms/{id:[0-9]+}/read", protected(ratelimit.ClassAPI, roomHandler.MarkRead)).Methods(http.MethodPost)

	v1.Handle("/messages/{id:[0-9]+}", protected(ratelimit.ClassAPI, messageHandler.Patch)).Methods(http.MethodPatch)
	v1.Handle("/messages/{id:[0-9]+}", protected(ratelimit.ClassAPI, messageHandler.Delete)).Methods(http.MethodDelete)
	v1.Handle("/messages/{id:[0-9]+}/reactions", protected(ratelimit.ClassAPI, messageHandler.AddReaction)).Methods(http.MethodPost)
	v1.Handle("/messages/{id:[0-9]+}/reactions/{emoji}", protected(ratelimit.ClassAPI, messageHandler.RemoveReaction)).Methods(http.MethodDelete)

	if d.Storage != nil {
		uploadHandler := NewUploadHandler(d.Storage, d.StorageCfg.MaxFileSizeMB<<20, log)
		v1.Handle("/uploads", protected(ratelimit.ClassStrict, uploadHandler.Upload)).Methods(http.MethodPost)
	}
	if d.StorageCfg.LocalPath != "" && strings.HasPrefix(d.StorageCfg.BaseURL, "/") {
		prefix := strings.TrimSuffix(d.StorageCfg.BaseURL, "/") + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(d.StorageCfg.LocalPath)))).Methods(http.MethodGet)
	}
	return r
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				response.Error(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
