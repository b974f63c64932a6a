package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	mediacall "campuslink-backend/internal/call"
	callservice "campuslink-backend/internal/service/call"
	"campuslink-backend/pkg/config"
	"campuslink-backend/pkg/response"
)

// Handler handles call session HTTP requests
type Handler struct {
	callService *callservice.Service
	webrtcCfg   *config.WebRTCConfig
}

// NewHandler creates a new call handler
func NewHandler(callService *callservice.Service, webrtcCfg *config.WebRTCConfig) *Handler {
	return &Handler{
		callService: callService,
		webrtcCfg:   webrtcCfg,
	}
}

// InitiateRequest represents call initiation request
type InitiateRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required,uuid"`
}

// Initiate starts a direct call
// POST /v1/calls/initiate
func (h *Handler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := currentUserID(c)
	if !ok {
		return
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		response.ValidationError(c, "Invalid receiver ID")
		return
	}

	session, err := h.callService.Initiate(c.Request.Context(), callerID, receiverID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, session)
}

// Accept accepts a ringing call
// POST /v1/calls/:id/accept
func (h *Handler) Accept(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	session, err := h.callService.Accept(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// End ends a call
// POST /v1/calls/:id/end
func (h *Handler) End(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.callService.End(c.Request.Context(), sessionID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Call ended",
		"session_id": sessionID,
	})
}

// Get returns one call session
// GET /v1/calls/:id
func (h *Handler) Get(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	session, err := h.callService.Get(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// History returns the user's call history
// GET /v1/calls/history
func (h *Handler) History(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, err := h.callService.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

// Config returns the client call configuration: relay servers and capture
// constraints
// GET /v1/calls/config
func (h *Handler) Config(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"ice_servers":       h.webrtcCfg.ICEServers,
		"media_constraints": mediacall.DefaultConstraints(),
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
