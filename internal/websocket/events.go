package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"cpsocial/internal/imtypes"
	"cpsocial/internal/services"
)

var (
	errMalformedPayload = errors.New("malformed payload")
	errIdentityMismatch = errors.New("userId does not match the authenticated user")
	errNotJoined        = errors.New("join the room first")
	errAlreadyAuthed    = errors.New("already authenticated")
	errShuttingDown     = errors.New("server shutting down")
)

// handle dispatches one inbound event. Failures are reported to this
// connection only.
func (c *Client) handle(env imtypes.Envelope) {
	if env.Event == imtypes.EventAuthenticate {
		c.authenticate(env)
		return
	}
	if !c.authed.Load() {
		c.sendError(env.Event, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ctx, cancel := context.WithTimeout(c.hub.ctx, eventTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case imtypes.EventJoinRoom:
		err = c.onJoinRoom(ctx, env)
	case imtypes.EventLeaveRoom:
		err = c.onLeaveRoom(env)
	case imtypes.EventSendMessage:
		err = c.onSendMessage(env)
	case imtypes.EventEditMessage:
		err = c.onEditMessage(ctx, env)
	case imtypes.EventDeleteMessage:
		err = c.onDeleteMessage(ctx, env)
	case imtypes.EventAddReaction, imtypes.EventRemoveReaction:
		err = c.onReaction(ctx, env)
	case imtypes.EventMarkRead:
		err = c.onMarkRead(env)
	case imtypes.EventTypingStart:
		err = c.onTyping(env, true)
	case imtypes.EventTypingStop:
		err = c.onTyping(env, false)
	default:
		c.sendError(env.Event, http.StatusBadRequest, "unknown event")
		return
	}
	if err != nil {
		c.replyError(env.Event, err)
	}
}

func decodePayload(env imtypes.Envelope, dst interface{}) error {
	if len(env.Data) == 0 {
		return errMalformedPayload
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return errMalformedPayload
	}
	return nil
}

// replyError turns err into an error event with an HTTP-like status code.
func (c *Client) replyError(event string, err error) {
	switch {
	case errors.Is(err, errMalformedPayload), errors.Is(err, errAlreadyAuthed):
		c.sendError(event, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, errIdentityMismatch), errors.Is(err, errNotJoined):
		c.sendError(event, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, errShuttingDown):
		c.sendError(event, http.StatusServiceUnavailable, err.Error())
		return
	}

	var code int
	switch services.KindOf(err) {
	case services.KindInvalid:
		code = http.StatusBadRequest
	case services.KindUnauthorized:
		code = http.StatusUnauthorized
	case services.KindForbidden:
		code = http.StatusForbidden
	case services.KindNotFound:
		code = http.StatusNotFound
	case services.KindConflict:
		code = http.StatusConflict
	default:
		c.log.Error("处理事件失败", zap.String("event", event), zap.Uint("user_id", c.session.UserID), zap.Error(err))
		c.sendError(event, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.sendError(event, code, err.Error())
}

func (c *Client) authenticate(env imtypes.Envelope) {
	if c.authed.Load() {
		c.replyError(env.Event, errAlreadyAuthed)
		return
	}
	var p imtypes.AuthenticatePayload
	if err := decodePayload(env, &p); err != nil || p.Token == "" {
		c.replyError(env.Event, errMalformedPayload)
		return
	}
	ctx, cancel := context.WithTimeout(c.hub.ctx, eventTimeout)
	defer cancel()
	claims, err := c.hub.deps.Auth.Authenticate(ctx, p.Token)
	if err != nil {
		c.log.Debug("WebSocket 认证失败", zap.Error(err))
		c.sendError(env.Event, http.StatusUnauthorized, "Unauthorized")
		return
	}
	c.bind(claims)
}

func (c *Client) onJoinRoom(ctx context.Context, env imtypes.Envelope) error {
	var p imtypes.RoomPayload
	if err := decodePayload(env, &p); err != nil || p.RoomID == 0 {
		return errMalformedPayload
	}
	return c.hub.joinRoom(ctx, c, p.RoomID)
}

func (c *Client) onLeaveRoom(env imtypes.Envelope) error {
	var p imtypes.RoomPayload
	if err := decodePayload(env, &p); err != nil || p.RoomID == 0 {
		return errMalformedPayload
	}
	c.hub.leaveRoom(c, p.RoomID)
	c.send(imtypes.EventRoomLeft, imtypes.RoomPayload{RoomID: p.RoomID})
	return nil
}

// onSendMessage persists and broadcasts on the room's worker.
func (c *Client) onSendMessage(env imtypes.Envelope) error {
	var p imtypes.SendMessagePayload
	if err := decodePayload(env, &p); err != nil || p.RoomID == 0 {
		return errMalformedPayload
	}
	userID := c.session.UserID
	if p.UserID != 0 && p.UserID != userID {
		return errIdentityMismatch
	}
	input := services.CreateMessageInput{
		RoomID:    p.RoomID,
		SenderID:  userID,
		Type:      p.Type,
		Content:   p.Content,
		ReplyToID: p.ReplyToID,
		Metadata:  p.Metadata,
	}
	h := c.hub
	ok := h.submit(p.RoomID, func(ctx context.Context) {
		msg, err := h.deps.Messages.CreateMessage(ctx, input)
		if err != nil {
			c.replyError(imtypes.EventSendMessage, err)
			return
		}
		h.publish(ctx, msg.RoomID, imtypes.EventNewMessage, imtypes.NewMessagePayload{MessageView: msg.View(), ClientID: p.ClientID})
	})
	if !ok {
		return errShuttingDown
	}
	h.stopTyping(typingKey{roomID: p.RoomID, userID: userID})
	return nil
}

// onRoom runs job on roomID's worker, behind any message still being
// persisted there, and reports its error to this connection.
func (c *Client) onRoom(roomID uint, event string, job func(ctx context.Context) error) error {
	ok := c.hub.submit(roomID, func(ctx context.Context) {
		if err := job(ctx); err != nil {
			c.replyError(event, err)
		}
	})
	if !ok {
		return errShuttingDown
	}
	return nil
}

func (c *Client) onEditMessage(ctx context.Context, env imtypes.Envelope) error {
	var p imtypes.EditMessagePayload
	if err := decodePayload(env, &p); err != nil || p.MessageID == 0 {
		return errMalformedPayload
	}
	h, userID := c.hub, c.session.UserID
	roomID, err := h.deps.Messages.RoomOf(ctx, p.MessageID, userID)
	if err != nil {
		return err
	}
	return c.onRoom(roomID, env.Event, func(ctx context.Context) error {
		msg, err := h.deps.Messages.EditMessage(ctx, p.MessageID, userID, p.Content)
		if err != nil {
			return err
		}
		h.publish(ctx, msg.RoomID, imtypes.EventMessageEdited, msg.View())
		return nil
	})
}

func (c *Client) onDeleteMessage(ctx context.Context, env imtypes.Envelope) error {
	var p imtypes.MessageRefPayload
	if err := decodePayload(env, &p); err != nil || p.MessageID == 0 {
		return errMalformedPayload
	}
	h, userID := c.hub, c.session.UserID
	roomID, err := h.deps.Messages.RoomOf(ctx, p.MessageID, userID)
	if err != nil {
		return err
	}
	return c.onRoom(roomID, env.Event, func(ctx context.Context) error {
		msg, err := h.deps.Messages.DeleteMessage(ctx, p.MessageID, userID)
		if err != nil {
			return err
		}
		h.publish(ctx, msg.RoomID, imtypes.EventMessageDeleted, imtypes.MessageDeletedPayload{RoomID: msg.RoomID, MessageID: msg.ID})
		return nil
	})
}

func (c *Client) onReaction(ctx context.Context, env imtypes.Envelope) error {
	var p imtypes.ReactionPayload
	if err := decodePayload(env, &p); err != nil || p.MessageID == 0 || p.Emoji == "" {
		return errMalformedPayload
	}
	h, userID := c.hub, c.session.UserID
	messages := h.deps.Messages
	apply := messages.AddReaction
	if env.Event == imtypes.EventRemoveReaction {
		apply = messages.RemoveReaction
	}
	roomID, err := messages.RoomOf(ctx, p.MessageID, userID)
	if err != nil {
		return err
	}
	return c.onRoom(roomID, env.Event, func(ctx context.Context) error {
		msg, err := apply(ctx, p.MessageID, userID, p.Emoji)
		if err != nil {
			return err
		}
		h.publish(ctx, msg.RoomID, imtypes.EventReactionUpdated, imtypes.ReactionUpdatedPayload{
			RoomID:    msg.RoomID,
			MessageID: msg.ID,
			Reactions: msg.Reactions,
		})
		return nil
	})
}

func (c *Client) onMarkRead(env imtypes.Envelope) error {
	var p imtypes.MarkReadPayload
	if err := decodePayload(env, &p); err != nil || p.RoomID == 0 {
		return errMalformedPayload
	}
	h, userID := c.hub, c.session.UserID
	return c.onRoom(p.RoomID, env.Event, func(ctx context.Context) error {
		receipt, err := h.deps.Messages.MarkAsRead(ctx, p.RoomID, userID, p.MessageID)
		if err != nil {
			return err
		}
		h.publish(ctx, p.RoomID, imtypes.EventReadReceipt, imtypes.ReadReceiptPayload{
			RoomID:            p.RoomID,
			UserID:            userID,
			LastReadMessageID: receipt.LastReadMessageID,
			ReadAt:            receipt.ReadAt,
		})
		return nil
	})
}

// onTyping only applies to rooms this connection has joined.
func (c *Client) onTyping(env imtypes.Envelope, typing bool) error {
	var p imtypes.RoomPayload
	if err := decodePayload(env, &p); err != nil || p.RoomID == 0 {
		return errMalformedPayload
	}
	if !c.hub.sessions.inRoom(c, p.RoomID) {
		return errNotJoined
	}
	if typing {
		c.hub.startTyping(p.RoomID, c.session.UserID, c.session.Username)
	} else {
		c.hub.stopTyping(typingKey{roomID: p.RoomID, userID: c.session.UserID})
	}
	return nil
}
