package rooms

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/middleware"
	"github.com/bpoc/video-calls/pkg/response"
)

// Handler serves room endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a rooms handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Create handles POST /video/rooms.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	out, err := h.svc.Create(c.Request.Context(), userID, req)
	if err != nil {
		h.fail(c, err, "Failed to create video room")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"room": gin.H{
			"id":               out.RoomID,
			"name":             out.Name,
			"url":              out.URL,
			"hostToken":        out.HostToken,
			"participantToken": out.ParticipantToken,
			"inviteToken":      out.InviteToken,
			"callType":         out.CallType,
			"callTypeLabel":    out.CallType.Label(),
			"callMode":         out.CallMode,
			"title":            out.Title,
		},
		"db": out.DB,
	})
}

// List handles GET /video/rooms?status=active|ended.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	list, err := h.svc.List(c.Request.Context(), userID, c.Query("status"))
	if err != nil {
		h.fail(c, err, "Failed to fetch video rooms")
		return
	}
	if list == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "rooms": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rooms": list})
}

// Get handles GET /video/rooms/:id.
func (h *Handler) Get(c *gin.Context) {
	userID, roomID, ok := h.ids(c)
	if !ok {
		return
	}
	detail, err := h.svc.Get(c.Request.Context(), roomID, userID)
	if err != nil {
		h.fail(c, err, "Failed to fetch room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "room": detail.Room, "participants": detail.Participants, "isHost": detail.IsHost})
}

// Update handles PATCH /video/rooms/:id.
func (h *Handler) Update(c *gin.Context) {
	userID, roomID, ok := h.ids(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	room, err := h.svc.Update(c.Request.Context(), roomID, userID, req)
	if err != nil {
		h.fail(c, err, "Failed to update room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "room": room})
}

// End handles DELETE /video/rooms/:id.
func (h *Handler) End(c *gin.Context) {
	userID, roomID, ok := h.ids(c)
	if !ok {
		return
	}
	if err := h.svc.End(c.Request.Context(), roomID, userID); err != nil {
		h.fail(c, err, "Failed to end room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Join handles POST /video/rooms/:id/join.
func (h *Handler) Join(c *gin.Context) {
	userID, roomID, ok := h.ids(c)
	if !ok {
		return
	}
	res, err := h.svc.Join(c.Request.Context(), roomID, userID)
	if err != nil {
		h.fail(c, err, "Failed to join room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "room": res})
}

func (h *Handler) ids(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return uuid.Nil, uuid.Nil, false
	}
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, roomID, true
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		response.BadRequest(c, verr.Msg)
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "Room not found")
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, "Not authorized for this room")
	case errors.Is(err, ErrEnded):
		response.BadRequest(c, "This call has ended")
	case errors.Is(err, ErrRoomGone):
		response.NotFound(c, "Video room no longer exists")
	default:
		h.logger.Error(msg, zap.Error(err))
		response.Internal(c, msg)
	}
}
