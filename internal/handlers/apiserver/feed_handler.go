package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"cpsocial/internal/handlers/response"
	"cpsocial/internal/services"
)

// FeedHandler serves the activity feed and leaderboards.
type FeedHandler struct {
	activities  services.ActivityService
	leaderboard services.LeaderboardService
	log         *zap.Logger
}

func NewFeedHandler(activities services.ActivityService, leaderboard services.LeaderboardService, log *zap.Logger) *FeedHandler {
	return &FeedHandler{activities: activities, leaderboard: leaderboard, log: log}
}

// Activities handles ?filter=all|friends|mine&limit=.
func (h *FeedHandler) Activities(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	feed, err := h.activities.Feed(r.Context(), userID, r.URL.Query().Get("filter"), queryInt(r, "limit", 0))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, feed)
}

// Leaderboard handles ?scope=global|friends&limit=.
func (h *FeedHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	board, err := h.leaderboard.Leaderboard(r.Context(), userID, r.URL.Query().Get("scope"), queryInt(r, "limit", 0))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, board)
}
