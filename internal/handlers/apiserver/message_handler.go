package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cpsocial/internal/handlers/response"
	"cpsocial/internal/imtypes"
	"cpsocial/internal/models"
	"cpsocial/internal/services"
)

// MessageHandler edits, deletes, pins and reacts to existing messages.
// Sending happens on the realtime gateway.
type MessageHandler struct {
	messages services.MessageService
	notifier roomNotifier
	log      *zap.Logger
}

func NewMessageHandler(messages services.MessageService, sink RoomEventSink, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, notifier: roomNotifier{sink: sink, log: log}, log: log}
}

// PatchMessageRequest edits the content and/or the pinned flag.
type PatchMessageRequest struct {
	Content *string `json:"content" validate:"omitnil,min=1"`
	Pinned  *bool   `json:"pinned"`
}

func (h *MessageHandler) Patch(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req PatchMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content == nil && req.Pinned == nil {
		response.ValidationError(w, []response.FieldError{{Field: "content", Message: "content or pinned is required"}})
		return
	}

	var (
		msg *models.Message
		err error
	)
	if req.Content != nil {
		msg, err = h.messages.EditMessage(r.Context(), messageID, userID, *req.Content)
		if err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
	}
	if req.Pinned != nil {
		msg, err = h.messages.PinMessage(r.Context(), messageID, userID, *req.Pinned)
		if err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
	}
	view := msg.View()
	h.notifier.notify(r.Context(), msg.RoomID, imtypes.EventMessageEdited, view)
	response.JSON(w, http.StatusOK, view)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	msg, err := h.messages.DeleteMessage(r.Context(), messageID, userID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	payload := imtypes.MessageDeletedPayload{RoomID: msg.RoomID, MessageID: msg.ID}
	h.notifier.notify(r.Context(), msg.RoomID, imtypes.EventMessageDeleted, payload)
	response.JSON(w, http.StatusOK, payload)
}

// ReactionRequest is the body of POST /messages/{id}/reactions.
type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=16"`
}

func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ReactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.messages.AddReaction(r.Context(), messageID, userID, req.Emoji)
	h.reactionResult(w, r, msg, err)
}

func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	msg, err := h.messages.RemoveReaction(r.Context(), messageID, userID, mux.Vars(r)["emoji"])
	h.reactionResult(w, r, msg, err)
}

func (h *MessageHandler) reactionResult(w http.ResponseWriter, r *http.Request, msg *models.Message, err error) {
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	payload := imtypes.ReactionUpdatedPayload{RoomID: msg.RoomID, MessageID: msg.ID, Reactions: msg.Reactions}
	h.notifier.notify(r.Context(), msg.RoomID, imtypes.EventReactionUpdated, payload)
	response.JSON(w, http.StatusOK, payload)
}
