package invitations

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/middleware"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/response"
)

// EventInvitationResponse is pushed to the host when an invitee answers.
const EventInvitationResponse = "invitation_response"

// Store is the persistence the handler needs.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Invitation, error)
	ListPending(ctx context.Context, userID uuid.UUID) ([]Pending, error)
	Respond(ctx context.Context, id uuid.UUID, status models.InvitationStatus, at time.Time) (bool, error)
}

// RoomReader loads the room an invitation points at.
type RoomReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Room, error)
}

// Notifier pushes in-app events to a user.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data any)
}

// RespondRequest is the body for PATCH /video/invitations/:id.
type RespondRequest struct {
	Action string `json:"action" binding:"required,oneof=accept decline"`
}

// Handler serves invitation endpoints.
type Handler struct {
	store    Store
	rooms    RoomReader
	notifier Notifier
	now      func() time.Time
	logger   *zap.Logger
}

// NewHandler creates an invitations handler. notifier may be nil.
func NewHandler(store Store, rooms RoomReader, notifier Notifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, rooms: rooms, notifier: notifier, now: time.Now, logger: logger}
}

// ListPending handles GET /video/invitations.
func (h *Handler) ListPending(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	list, err := h.store.ListPending(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list invitations failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to load invitations")
		return
	}
	if list == nil {
		list = []Pending{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "invitations": list})
}

// Respond handles PATCH /video/invitations/:id with {"action": "accept"|"decline"}.
func (h *Handler) Respond(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid invitation id")
		return
	}
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "action must be accept or decline")
		return
	}

	ctx := c.Request.Context()
	inv, err := h.store.Get(ctx, id)
	if err != nil {
		h.logger.Error("get invitation failed", zap.Error(err), zap.String("invitation_id", id.String()))
		response.Internal(c, "failed to load invitation")
		return
	}
	if inv == nil {
		response.NotFound(c, "invitation not found")
		return
	}
	if inv.InviteeUserID != userID {
		response.Forbidden(c, "not your invitation")
		return
	}
	if inv.Status != models.InvitationPending {
		response.BadRequest(c, "invitation already "+string(inv.Status))
		return
	}

	now := h.now()
	if inv.Expired(now) {
		if _, err := h.store.Respond(ctx, id, models.InvitationExpired, now); err != nil {
			h.logger.Warn("mark invitation expired failed", zap.Error(err), zap.String("invitation_id", id.String()))
		}
		response.BadRequest(c, "invitation has expired")
		return
	}

	status := models.InvitationDeclined
	if req.Action == "accept" {
		status = models.InvitationAccepted
	}
	updated, err := h.store.Respond(ctx, id, status, now)
	if err != nil {
		h.logger.Error("respond to invitation failed", zap.Error(err), zap.String("invitation_id", id.String()))
		response.Internal(c, "failed to update invitation")
		return
	}
	if !updated {
		response.BadRequest(c, "invitation is no longer pending")
		return
	}
	inv.Status = status
	inv.RespondedAt = &now

	var room *models.Room
	if h.rooms != nil {
		room, err = h.rooms.Get(ctx, inv.RoomID)
		if err != nil {
			h.logger.Warn("load room for invitation response failed", zap.Error(err))
		}
	}
	if room != nil && h.notifier != nil {
		h.notifier.Notify(ctx, room.HostUserID, EventInvitationResponse, gin.H{
			"invitationId": inv.ID,
			"roomId":       inv.RoomID,
			"status":       inv.Status,
			"inviteeId":    inv.InviteeUserID,
		})
	}

	out := gin.H{"success": true, "invitation": inv}
	if room != nil && status == models.InvitationAccepted {
		out["room"] = gin.H{"id": room.ID, "url": room.DailyRoomURL, "joinUrl": inv.JoinURL}
	}
	c.JSON(http.StatusOK, out)
}
