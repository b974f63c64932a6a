package match

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	matchservice "campuslink-backend/internal/service/match"
	"campuslink-backend/pkg/response"
)

// Handler handles matchmaking HTTP requests
type Handler struct {
	matchService *matchservice.Service
}

// NewHandler creates a new match handler
func NewHandler(matchService *matchservice.Service) *Handler {
	return &Handler{matchService: matchService}
}

// Join enters the random-match queue
// POST /v1/match/join
func (h *Handler) Join(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.matchService.Join(c.Request.Context(), userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Joined match queue"})
}

// Cancel leaves the queue. The "cancelled" field is authoritative: false
// means a match already claimed this user and the client should expect a
// matched notification.
// POST /v1/match/cancel
func (h *Handler) Cancel(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	cancelled, err := h.matchService.Cancel(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"cancelled": cancelled})
}

// Poll attempts one claim on behalf of the waiting user
// POST /v1/match/poll
func (h *Handler) Poll(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	session, err := h.matchService.TryMatch(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	if session == nil {
		response.Success(c, http.StatusOK, gin.H{"matched": false})
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"matched": true,
		"session": session,
	})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}
