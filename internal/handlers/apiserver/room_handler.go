package apiserver

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"cpsocial/internal/handlers/response"
	"cpsocial/internal/imtypes"
	"cpsocial/internal/models"
	"cpsocial/internal/services"
)

// apiOrigin marks room events produced by the API server on the relay topic.
const apiOrigin = "apiserver"

// RoomEventSink forwards changes made over HTTP to the realtime gateways.
// kafka.RoomEventPublisher implements it.
type RoomEventSink interface {
	PublishRoomEvent(ctx context.Context, evt imtypes.RoomEvent) error
}

// roomNotifier publishes room events when a sink is configured.
type roomNotifier struct {
	sink RoomEventSink
	log  *zap.Logger
}

func (n roomNotifier) notify(ctx context.Context, roomID uint, event string, data interface{}) {
	if n.sink == nil {
		return
	}
	env, err := imtypes.NewEnvelope(event, data)
	if err != nil {
		n.log.Error("encode room event failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := n.sink.PublishRoomEvent(ctx, imtypes.RoomEvent{Origin: apiOrigin, RoomID: roomID, Envelope: env}); err != nil {
		n.log.Warn("publish room event failed", zap.String("event", event), zap.Uint("room_id", roomID), zap.Error(err))
	}
}

// RoomHandler 处理房间相关请求。
type RoomHandler struct {
	rooms    services.RoomService
	messages services.MessageService
	notifier roomNotifier
	log      *zap.Logger
}

func NewRoomHandler(rooms services.RoomService, messages services.MessageService, sink RoomEventSink, log *zap.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, messages: messages, notifier: roomNotifier{sink: sink, log: log}, log: log}
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	rooms, err := h.rooms.ListUserRooms(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, rooms)
}

// DirectRoomRequest is the body of POST /rooms/direct.
type DirectRoomRequest struct {
	UserID uint `json:"userId" validate:"required"`
}

func (h *RoomHandler) OpenDirect(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req DirectRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	room, err := h.rooms.GetOrCreateDirectRoom(r.Context(), userID, req.UserID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, room)
}

// GroupRoomRequest is the body of POST /rooms/group.
type GroupRoomRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	MemberIDs []uint `json:"memberIds" validate:"max=99"`
}

func (h *RoomHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req GroupRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	room, err := h.rooms.CreateGroupRoom(r.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusCreated, room)
}

// InviteRequest is the body of POST /rooms/{id}/members.
type InviteRequest struct {
	UserID uint `json:"userId" validate:"required"`
}

func (h *RoomHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req InviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.rooms.InviteMember(r.Context(), roomID, userID, req.UserID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]uint{"roomId": roomID, "userId": req.UserID})
}

func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.rooms.LeaveRoom(r.Context(), roomID, userID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]uint{"roomId": roomID})
}

// Messages pages through history: ?before=<messageId>&limit=<n>.
func (h *RoomHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	before := queryInt(r, "before", 0)
	if before < 0 {
		before = 0
	}
	messages, err := h.messages.GetRoomMessages(r.Context(), roomID, userID, uint(before), queryInt(r, "limit", 0))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	views := make([]models.MessageView, 0, len(messages))
	for i := range messages {
		views = append(views, messages[i].View())
	}
	response.JSON(w, http.StatusOK, views)
}

// MarkReadRequest is the optional body of POST /rooms/{id}/read. A zero
// message id marks everything read.
type MarkReadRequest struct {
	MessageID uint `json:"messageId"`
}

func (h *RoomHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	roomID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req MarkReadRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	receipt, err := h.messages.MarkAsRead(r.Context(), roomID, userID, req.MessageID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	h.notifier.notify(r.Context(), roomID, imtypes.EventReadReceipt, imtypes.ReadReceiptPayload{
		RoomID:            roomID,
		UserID:            userID,
		LastReadMessageID: receipt.LastReadMessageID,
		ReadAt:            receipt.ReadAt,
	})
	response.JSON(w, http.StatusOK, receipt)
}
