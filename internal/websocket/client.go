package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cpsocial/internal/auth"
	"cpsocial/internal/imtypes"
)

const sendBufferSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger

	session *Session

	// Buffered channel of outbound frames.
	out chan []byte

	limiter   *rate.Limiter
	authed    atomic.Bool
	lastEvent atomic.Int64

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	c := &Client{
		hub:  h,
		conn: conn,
		log:  h.log.With(zap.String("session", id)),
		session: &Session{
			ID:          id,
			ConnectedAt: time.Now(),
			rooms:       make(map[uint]struct{}),
		},
		out:     make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(h.timeouts.eventRate), h.timeouts.eventBurst),
	}
	c.lastEvent.Store(time.Now().UnixNano())
	return c
}

// ServeWs upgrades the request and starts the connection's pumps. When
// claims is nil the connection must send authenticate before anything else.
func ServeWs(h *Hub, w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	if h.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	c := newClient(h, conn)
	h.sessions.add(c)
	if claims != nil {
		c.bind(claims)
	} else {
		time.AfterFunc(h.timeouts.authTimeout, func() {
			if !c.authed.Load() {
				c.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
			}
		})
	}

	go c.writePump()
	go c.readPump()
	c.log.Debug("客户端已连接", zap.String("remote", r.RemoteAddr))
}

// bind marks the connection as belonging to the token's user.
func (c *Client) bind(claims *auth.Claims) {
	c.hub.sessions.bindUser(c, claims.UserID, claims.Username)
	c.authed.Store(true)
	c.send(imtypes.EventAuthenticated, imtypes.AuthenticatedPayload{Success: true, UserID: claims.UserID, Username: claims.Username})
	if c.hub.deps.LastSeen != nil {
		c.hub.deps.LastSeen.TouchLastSeen(c.hub.ctx, claims.UserID)
	}
}

// readPump reads events until the connection fails, then unregisters it.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.close()
		c.conn.Close()
	}()
	t := c.hub.timeouts
	c.conn.SetReadLimit(t.maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	// 收到 pong 说明对端仍在线，同样计入活跃时间
	c.conn.SetPongHandler(func(string) error {
		c.lastEvent.Store(time.Now().UnixNano())
		return c.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Info("WebSocket 连接异常关闭", zap.Uint("user_id", c.session.UserID), zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(t.pongWait))
		c.lastEvent.Store(time.Now().UnixNano())

		if messageType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "text frames only")
			return
		}

		var env imtypes.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.sendError("", http.StatusBadRequest, "malformed event")
			continue
		}
		if !c.limiter.Allow() {
			c.sendError(env.Event, http.StatusTooManyRequests, "Too many events")
			continue
		}
		c.handle(env)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	t := c.hub.timeouts
	ticker := time.NewTicker(t.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if t.idleTimeout > 0 && time.Since(time.Unix(0, c.lastEvent.Load())) > t.idleTimeout {
				c.closeWith(websocket.CloseGoingAway, "idle timeout")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// queue hands a frame to the write pump. A client whose buffer is full is
// too slow to keep up and gets disconnected.
func (c *Client) queue(frame []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.out <- frame:
		c.mu.Unlock()
		return true
	default:
	}
	c.mu.Unlock()
	c.log.Warn("发送通道已满，断开客户端", zap.Uint("user_id", c.session.UserID))
	c.closeWith(websocket.CloseTryAgainLater, "send buffer full")
	return false
}

func (c *Client) send(event string, data interface{}) {
	env, err := imtypes.NewEnvelope(event, data)
	if err != nil {
		c.log.Error("构建事件失败", zap.String("event", event), zap.Error(err))
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		c.log.Error("序列化事件失败", zap.String("event", event), zap.Error(err))
		return
	}
	c.queue(raw)
}

func (c *Client) sendError(event string, code int, message string) {
	c.send(imtypes.EventError, imtypes.ErrorPayload{Code: code, Message: message, Event: event})
}

// close stops the write pump, which closes the connection.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.out)
		c.mu.Unlock()
	})
}

func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.hub.timeouts.writeWait))
	c.close()
}
