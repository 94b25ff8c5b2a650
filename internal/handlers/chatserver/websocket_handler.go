package chatserver

import (
	"net/http"

	"go.uber.org/zap"

	"cpsocial/internal/auth"
	"cpsocial/internal/handlers/response"
	"cpsocial/internal/middleware"
	ws "cpsocial/internal/websocket"
)

// WebSocketHandler 负责处理 WebSocket 连接请求。
type WebSocketHandler struct {
	hub        *ws.Hub
	auth       ws.Authenticator
	cookieName string
	log        *zap.Logger
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(hub *ws.Hub, authenticator ws.Authenticator, cookieName string, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketHandler{hub: hub, auth: authenticator, cookieName: cookieName, log: log.Named("ws")}
}

// ServeWS upgrades the connection. A token in the query string or session
// cookie authenticates up front; without one the client has to send an
// authenticate event after connecting.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = middleware.TokenFromRequest(r, h.cookieName)
	}

	var claims *auth.Claims
	if token != "" {
		var err error
		claims, err = h.auth.Authenticate(r.Context(), token)
		if err != nil {
			h.log.Debug("WebSocket 连接令牌无效", zap.String("remote", r.RemoteAddr), zap.Error(err))
			response.Unauthorized(w)
			return
		}
	}
	ws.ServeWs(h.hub, w, r, claims)
}
