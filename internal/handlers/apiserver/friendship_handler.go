package apiserver

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"cpsocial/internal/handlers/response"
	"cpsocial/internal/models"
	"cpsocial/internal/services"
)

// FriendshipHandler exposes the friendship state machine.
type FriendshipHandler struct {
	friendships services.FriendshipService
	log         *zap.Logger
}

func NewFriendshipHandler(friendships services.FriendshipService, log *zap.Logger) *FriendshipHandler {
	return &FriendshipHandler{friendships: friendships, log: log}
}

// SendRequestBody is the body of POST /friends/requests.
type SendRequestBody struct {
	AddresseeID uint `json:"addresseeId" validate:"required"`
}

func (h *FriendshipHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req SendRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}
	edge, err := h.friendships.SendFriendRequest(r.Context(), userID, req.AddresseeID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusCreated, edge)
}

func (h *FriendshipHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.friendships.AcceptFriendRequest)
}

func (h *FriendshipHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.friendships.RejectFriendRequest)
}

func (h *FriendshipHandler) respond(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, friendshipID, addresseeID uint) (*models.Friendship, error)) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	edge, err := fn(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, edge)
}

func (h *FriendshipHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	friendID, ok := pathID(w, r, "friendId")
	if !ok {
		return
	}
	if err := h.friendships.RemoveFriend(r.Context(), userID, friendID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "Friend removed"})
}

func (h *FriendshipHandler) Block(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	if err := h.friendships.BlockUser(r.Context(), userID, targetID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "User blocked"})
}

func (h *FriendshipHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	friends, err := h.friendships.GetUserFriends(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, friends)
}

func (h *FriendshipHandler) ListIncoming(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	requests, err := h.friendships.GetPendingFriendRequests(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, requests)
}

func (h *FriendshipHandler) ListSent(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	requests, err := h.friendships.GetSentFriendRequests(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, requests)
}
