package recordings

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/middleware"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/response"
)

// Store reads recordings.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.Recording, error)
}

// Rooms looks up rooms.
type Rooms interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Room, error)
}

// Access decides whether a user may see a room's artifacts.
type Access interface {
	CanAccess(ctx context.Context, room *models.Room, userID uuid.UUID) bool
}

// Signer presigns owned-storage objects.
type Signer interface {
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// AccessLinks issues fresh vendor download links.
type AccessLinks interface {
	RecordingAccessLink(ctx context.Context, recordingID string) (*daily.AccessLink, error)
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	store  Store
	rooms  Rooms
	access Access
	s3     Signer
	links  AccessLinks
	logger *zap.Logger

	vendor VendorRecordings
	claims Claims
	jobs   Jobs
}

// NewHandler creates a recordings handler. s3 and links may be nil.
func NewHandler(store Store, rooms Rooms, access Access, s3 Signer, links AccessLinks, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, rooms: rooms, access: access, s3: s3, links: links, logger: logger}
}

// List handles GET /video/recordings?roomId=.
func (h *Handler) List(c *gin.Context) {
	roomID, err := uuid.Parse(c.Query("roomId"))
	if err != nil {
		response.BadRequest(c, "Room ID is required")
		return
	}
	if _, ok := h.authorize(c, roomID); !ok {
		return
	}
	list, err := h.store.ListByRoom(c.Request.Context(), roomID)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err), zap.String("room_id", roomID.String()))
		response.Internal(c, "failed to list recordings")
		return
	}
	if list == nil {
		list = []*models.Recording{}
	}
	response.OK(c, list)
}

// DownloadURL handles GET /video/recordings/:id/download-url. S3 copies get a presigned
// link; vendor-hosted recordings get a fresh vendor link.
func (h *Handler) DownloadURL(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	ctx := c.Request.Context()
	rec, err := h.store.Get(ctx, recordingID)
	if err != nil {
		h.logger.Error("get recording failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to load recording")
		return
	}
	if rec == nil {
		response.NotFound(c, "recording not found")
		return
	}
	if _, ok := h.authorize(c, rec.RoomID); !ok {
		return
	}
	if rec.Status != models.RecordingStatusReady {
		response.BadRequest(c, "recording not ready for download")
		return
	}

	switch {
	case rec.StorageProvider == models.StorageS3 && rec.StoragePath != "" && h.s3 != nil:
		expire := h.s3.PresignExpire()
		url, err := h.s3.GeneratePresignedDownloadURL(ctx, rec.StoragePath, expire)
		if err != nil {
			h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
			response.Internal(c, "failed to generate download URL")
			return
		}
		response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds()), "provider": rec.StorageProvider})
	case rec.StorageProvider == models.StorageDaily && h.links != nil:
		link, err := h.links.RecordingAccessLink(ctx, rec.DailyRecordingID)
		if err != nil {
			h.logger.Error("vendor access link failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
			response.Internal(c, "failed to generate download URL")
			return
		}
		expiresIn := 0
		if link.Expires > 0 {
			expiresIn = max(0, int(time.Until(time.Unix(link.Expires, 0)).Seconds()))
		}
		response.OK(c, gin.H{"download_url": link.DownloadLink, "expires_in": expiresIn, "provider": rec.StorageProvider})
	case rec.DownloadURL != "":
		response.OK(c, gin.H{"download_url": rec.DownloadURL, "provider": rec.StorageProvider})
	default:
		response.BadRequest(c, "recording has no downloadable copy")
	}
}

func (h *Handler) authorize(c *gin.Context, roomID uuid.UUID) (*models.Room, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return nil, false
	}
	room, err := h.rooms.Get(c.Request.Context(), roomID)
	if err != nil {
		h.logger.Error("get room failed", zap.Error(err), zap.String("room_id", roomID.String()))
		response.Internal(c, "failed to load room")
		return nil, false
	}
	if room == nil {
		response.NotFound(c, "Room not found")
		return nil, false
	}
	if !h.access.CanAccess(c.Request.Context(), room, userID) {
		response.Forbidden(c, "not authorized to access recordings")
		return nil, false
	}
	return room, true
}
