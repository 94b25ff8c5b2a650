package chatserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpsocial/internal/auth"
	"cpsocial/internal/config"
	"cpsocial/internal/imtypes"
	"cpsocial/internal/testutil"
	ws "cpsocial/internal/websocket"
)

type staticAuth map[string]*auth.Claims

func (s staticAuth) Authenticate(_ context.Context, token string) (*auth.Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	authn := staticAuth{"good": {UserID: 7, Username: "neal"}}
	hub := ws.NewHub(config.WebSocketConfig{}, ws.Deps{Auth: authn}, testutil.TestLogger(t))
	handler := NewWebSocketHandler(hub, authn, "session", testutil.TestLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return srv
}

func TestServeWS_RejectsInvalidToken(t *testing.T) {
	srv := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=bad"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWS_CookieAuthenticates(t *testing.T) {
	srv := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Set("Cookie", "session=good")

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env imtypes.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, imtypes.EventAuthenticated, env.Event)
	assert.Contains(t, string(env.Data), `"userId":7`)
}

func TestServeWS_AnonymousUpgrade(t *testing.T) {
	srv := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	env, err := imtypes.NewEnvelope(imtypes.EventLeaveRoom, imtypes.RoomPayload{RoomID: 1})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var reply imtypes.Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, imtypes.EventError, reply.Event)
	assert.Contains(t, string(reply.Data), `"code":401`)
}
