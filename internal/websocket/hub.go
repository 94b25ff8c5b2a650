package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cpsocial/internal/auth"
	"cpsocial/internal/config"
	"cpsocial/internal/imtypes"
	"cpsocial/internal/services"
)

const (
	workerQueueSize   = 64
	workerIdleTimeout = time.Minute
	eventTimeout      = 10 * time.Second
)

// Authenticator validates session tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
}

// RoomEventPublisher relays persisted room events to other gateway instances.
type RoomEventPublisher interface {
	PublishRoomEvent(ctx context.Context, evt imtypes.RoomEvent) error
}

// LastSeenRecorder is told when a user connects or disconnects.
type LastSeenRecorder interface {
	TouchLastSeen(ctx context.Context, userID uint)
}

// Deps are the collaborators of a Hub. Relay and LastSeen are optional.
type Deps struct {
	Auth     Authenticator
	Rooms    services.RoomService
	Messages services.MessageService
	Relay    RoomEventPublisher
	LastSeen LastSeenRecorder
	// InstanceID tags relayed events so an instance ignores its own.
	InstanceID string
}

type timeouts struct {
	writeWait   time.Duration
	pongWait    time.Duration
	pingPeriod  time.Duration
	authTimeout time.Duration
	idleTimeout time.Duration
	typingTTL   time.Duration
	maxMessage  int64
	eventRate   float64
	eventBurst  int
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func timeoutsFromConfig(cfg config.WebSocketConfig) timeouts {
	t := timeouts{
		writeWait:   seconds(cfg.WriteWaitSeconds, 10),
		pongWait:    seconds(cfg.PongWaitSeconds, 60),
		authTimeout: seconds(cfg.AuthTimeoutSeconds, 10),
		typingTTL:   seconds(cfg.TypingTTLSeconds, 6),
		maxMessage:  int64(cfg.MaxMessageSizeBytes),
		eventRate:   cfg.EventsPerSecond,
		eventBurst:  cfg.EventBurst,
	}
	t.pingPeriod = seconds(cfg.PingPeriodSeconds, 54)
	if t.pingPeriod >= t.pongWait {
		t.pingPeriod = t.pongWait * 9 / 10
	}
	if cfg.IdleTimeoutSeconds > 0 {
		t.idleTimeout = time.Duration(cfg.IdleTimeoutSeconds) * time.Second
	}
	if t.maxMessage <= 0 {
		t.maxMessage = 8192
	}
	if t.eventRate <= 0 {
		t.eventRate = 10
	}
	if t.eventBurst <= 0 {
		t.eventBurst = 20
	}
	return t
}

type typingKey struct {
	roomID uint
	userID uint
}

type roomWorker struct {
	jobs    chan func(ctx context.Context)
	pending atomic.Int64
}

// Hub owns every connection of this gateway instance. Room membership is
// verified against the store, and message persistence for one room runs on
// that room's worker so broadcast order matches commit order.
type Hub struct {
	deps     Deps
	timeouts timeouts
	log      *zap.Logger

	sessions *registry

	workersMu sync.Mutex
	workers   map[uint]*roomWorker
	closed    bool

	typingMu sync.Mutex
	typing   map[typingKey]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a Hub.
func NewHub(cfg config.WebSocketConfig, deps Deps, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.InstanceID == "" {
		deps.InstanceID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		deps:     deps,
		timeouts: timeoutsFromConfig(cfg),
		log:      log.Named("hub"),
		sessions: newRegistry(),
		workers:  make(map[uint]*roomWorker),
		typing:   make(map[typingKey]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// InstanceID identifies this gateway on the relay topic.
func (h *Hub) InstanceID() string {
	return h.deps.InstanceID
}

// SessionCount is the number of open connections.
func (h *Hub) SessionCount() int {
	return h.sessions.count()
}

// Close disconnects every client and stops the room workers.
func (h *Hub) Close() {
	h.workersMu.Lock()
	h.closed = true
	h.workersMu.Unlock()
	h.cancel()

	for _, c := range h.sessions.all() {
		c.close()
	}
	h.typingMu.Lock()
	for key, t := range h.typing {
		t.Stop()
		delete(h.typing, key)
	}
	h.typingMu.Unlock()
	h.wg.Wait()
	h.log.Info("Hub 已关闭")
}

// NotifyUser queues env on every connection of userID and returns how many
// connections it reached.
func (h *Hub) NotifyUser(userID uint, env imtypes.Envelope) int {
	raw, err := json.Marshal(env)
	if err != nil {
		h.log.Error("序列化通知失败", zap.Error(err))
		return 0
	}
	n := 0
	for _, c := range h.sessions.userClients(userID) {
		if c.queue(raw) {
			n++
		}
	}
	return n
}

// DeliverToRoom broadcasts an event that another instance already persisted.
func (h *Hub) DeliverToRoom(roomID uint, env imtypes.Envelope) {
	ctx, cancel := context.WithTimeout(h.ctx, eventTimeout)
	defer cancel()
	if err := h.pruneRoom(ctx, roomID); err != nil {
		h.log.Warn("校验房间成员失败，丢弃转发事件", zap.Uint("room_id", roomID), zap.String("event", env.Event), zap.Error(err))
		return
	}
	h.broadcast(roomID, env, 0)
}

// EvictFromRoom drops every local connection of userID from roomID and tells
// each of them so. It returns how many connections were evicted.
func (h *Hub) EvictFromRoom(userID, roomID uint) int {
	n := 0
	for _, c := range h.sessions.userClients(userID) {
		if h.evict(c, roomID) {
			n++
		}
	}
	return n
}

func (h *Hub) evict(c *Client, roomID uint) bool {
	if !h.leaveRoom(c, roomID) {
		return false
	}
	c.send(imtypes.EventRoomLeft, imtypes.RoomPayload{RoomID: roomID})
	return true
}

// pruneRoom evicts local connections whose user is no longer a member of
// roomID, so a departed member never sees the room's later traffic.
func (h *Hub) pruneRoom(ctx context.Context, roomID uint) error {
	clients := h.sessions.roomClients(roomID)
	if len(clients) == 0 {
		return nil
	}
	ids, err := h.deps.Rooms.MemberIDs(ctx, roomID)
	if err != nil {
		return err
	}
	members := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		members[id] = struct{}{}
	}
	for _, c := range clients {
		if _, ok := members[c.session.UserID]; !ok {
			h.evict(c, roomID)
		}
	}
	return nil
}

// broadcast sends env to every local connection in roomID, skipping the
// connections of skipUser when it is non-zero.
func (h *Hub) broadcast(roomID uint, env imtypes.Envelope, skipUser uint) {
	raw, err := json.Marshal(env)
	if err != nil {
		h.log.Error("序列化广播失败", zap.String("event", env.Event), zap.Error(err))
		return
	}
	for _, c := range h.sessions.roomClients(roomID) {
		if skipUser != 0 && c.session.UserID == skipUser {
			continue
		}
		c.queue(raw)
	}
}

// publish broadcasts a persisted room event to the room's current members
// locally and relays it to the other instances.
func (h *Hub) publish(ctx context.Context, roomID uint, event string, data interface{}) {
	env, err := imtypes.NewEnvelope(event, data)
	if err != nil {
		h.log.Error("构建事件失败", zap.String("event", event), zap.Error(err))
		return
	}
	if err := h.pruneRoom(ctx, roomID); err != nil {
		h.log.Warn("校验房间成员失败，跳过本地广播", zap.Uint("room_id", roomID), zap.String("event", event), zap.Error(err))
	} else {
		h.broadcast(roomID, env, 0)
	}
	if h.deps.Relay == nil {
		return
	}
	evt := imtypes.RoomEvent{Origin: h.deps.InstanceID, RoomID: roomID, Envelope: env}
	if err := h.deps.Relay.PublishRoomEvent(ctx, evt); err != nil {
		h.log.Warn("转发房间事件失败", zap.Uint("room_id", roomID), zap.String("event", event), zap.Error(err))
	}
}

// notifyRoom broadcasts a transient, unpersisted event to local connections.
func (h *Hub) notifyRoom(roomID uint, event string, data interface{}, skipUser uint) {
	env, err := imtypes.NewEnvelope(event, data)
	if err != nil {
		h.log.Error("构建事件失败", zap.String("event", event), zap.Error(err))
		return
	}
	h.broadcast(roomID, env, skipUser)
}

// submit runs job on roomID's worker. It returns false once the hub is closed.
func (h *Hub) submit(roomID uint, job func(ctx context.Context)) bool {
	h.workersMu.Lock()
	if h.closed {
		h.workersMu.Unlock()
		return false
	}
	w, ok := h.workers[roomID]
	if !ok {
		w = &roomWorker{jobs: make(chan func(ctx context.Context), workerQueueSize)}
		h.workers[roomID] = w
		h.wg.Add(1)
		go h.runWorker(roomID, w)
	}
	w.pending.Add(1)
	h.workersMu.Unlock()

	select {
	case w.jobs <- job:
		return true
	case <-h.ctx.Done():
		w.pending.Add(-1)
		return false
	}
}

func (h *Hub) runWorker(roomID uint, w *roomWorker) {
	defer h.wg.Done()
	idle := time.NewTimer(workerIdleTimeout)
	defer idle.Stop()
	for {
		select {
		case job := <-w.jobs:
			h.runJob(roomID, job)
			w.pending.Add(-1)
			idle.Reset(workerIdleTimeout)
		case <-idle.C:
			h.workersMu.Lock()
			if w.pending.Load() == 0 {
				delete(h.workers, roomID)
				h.workersMu.Unlock()
				return
			}
			h.workersMu.Unlock()
			idle.Reset(workerIdleTimeout)
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) runJob(roomID uint, job func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("房间任务 panic", zap.Uint("room_id", roomID), zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(h.ctx, eventTimeout)
	defer cancel()
	job(ctx)
}

// joinRoom verifies membership and adds c to the room's broadcast group.
func (h *Hub) joinRoom(ctx context.Context, c *Client, roomID uint) error {
	userID := c.session.UserID
	if err := h.deps.Rooms.RequireMember(ctx, roomID, userID); err != nil {
		return err
	}
	first := h.sessions.join(c, roomID)
	c.send(imtypes.EventRoomJoined, imtypes.RoomJoinedPayload{RoomID: roomID, OnlineUsers: h.sessions.onlineUsers(roomID)})
	if first {
		h.notifyRoom(roomID, imtypes.EventPresence, imtypes.PresencePayload{RoomID: roomID, UserID: userID, Online: true}, userID)
	}
	return nil
}

// leaveRoom removes c from roomID and releases the user's presence when c
// was their last connection there.
func (h *Hub) leaveRoom(c *Client, roomID uint) bool {
	joined, last := h.sessions.leave(c, roomID)
	if !joined {
		return false
	}
	if last {
		h.releasePresence(c.session.UserID, roomID)
	}
	return true
}

func (h *Hub) releasePresence(userID, roomID uint) {
	h.stopTyping(typingKey{roomID: roomID, userID: userID})
	h.notifyRoom(roomID, imtypes.EventPresence, imtypes.PresencePayload{RoomID: roomID, UserID: userID, Online: false}, userID)
}

// disconnect is called once from the connection's read loop on exit.
func (h *Hub) disconnect(c *Client) {
	rooms := h.sessions.remove(c)
	userID := c.session.UserID
	if userID == 0 {
		return
	}
	for _, roomID := range rooms {
		if !h.sessions.userInRoom(userID, roomID) {
			h.releasePresence(userID, roomID)
		}
	}
	if h.deps.LastSeen != nil && len(h.sessions.userClients(userID)) == 0 {
		h.deps.LastSeen.TouchLastSeen(h.ctx, userID)
	}
	h.log.Debug("客户端已注销", zap.String("session", c.session.ID), zap.Uint("user_id", userID))
}

// startTyping marks the user as typing in roomID until typingTTL passes
// without another typing_start.
func (h *Hub) startTyping(roomID, userID uint, username string) {
	key := typingKey{roomID: roomID, userID: userID}
	h.typingMu.Lock()
	if t, ok := h.typing[key]; ok {
		t.Reset(h.timeouts.typingTTL)
		h.typingMu.Unlock()
		return
	}
	var t *time.Timer
	t = time.AfterFunc(h.timeouts.typingTTL, func() { h.expireTyping(key, t) })
	h.typing[key] = t
	h.typingMu.Unlock()

	h.notifyRoom(roomID, imtypes.EventUserTyping, imtypes.TypingPayload{RoomID: roomID, UserID: userID, Username: username}, userID)
}

func (h *Hub) stopTyping(key typingKey) {
	h.typingMu.Lock()
	t, ok := h.typing[key]
	if ok {
		t.Stop()
		delete(h.typing, key)
	}
	h.typingMu.Unlock()
	if ok {
		h.notifyRoom(key.roomID, imtypes.EventUserStoppedTyping, imtypes.TypingPayload{RoomID: key.roomID, UserID: key.userID}, key.userID)
	}
}

func (h *Hub) expireTyping(key typingKey, t *time.Timer) {
	h.typingMu.Lock()
	current, ok := h.typing[key]
	if !ok || current != t {
		h.typingMu.Unlock()
		return
	}
	delete(h.typing, key)
	h.typingMu.Unlock()
	h.notifyRoom(key.roomID, imtypes.EventUserStoppedTyping, imtypes.TypingPayload{RoomID: key.roomID, UserID: key.userID}, key.userID)
}

// isTyping reports whether userID currently has typing state in roomID.
func (h *Hub) isTyping(roomID, userID uint) bool {
	h.typingMu.Lock()
	defer h.typingMu.Unlock()
	_, ok := h.typing[typingKey{roomID: roomID, userID: userID}]
	return ok
}
