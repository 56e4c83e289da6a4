package recordings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/queue"
	"github.com/bpoc/video-calls/pkg/response"
)

// VendorRecordings lists the vendor's recordings for a room.
type VendorRecordings interface {
	ListRecordings(ctx context.Context, roomName string) ([]daily.RecordingInfo, error)
}

// Claims moves a vendor recording into processing; nil means it is already being handled.
// MarkFailed returns a claimed recording to a state a later sync can pick up.
type Claims interface {
	UpsertReady(ctx context.Context, in Ready) (*models.Recording, error)
	MarkFailed(ctx context.Context, dailyRecordingID, message string) (bool, error)
}

// SyncResult counts what a sync found and queued.
type SyncResult struct {
	Found   int `json:"found"`
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// WithSync enables POST /video/recordings/sync. Without it the endpoint answers 503.
func (h *Handler) WithSync(vendor VendorRecordings, claims Claims, jobs Jobs) *Handler {
	h.vendor, h.claims, h.jobs = vendor, claims, jobs
	return h
}

type syncRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}

// Sync handles POST /video/recordings/sync. It pulls the room's finished vendor
// recordings and queues any the webhook never delivered.
func (h *Handler) Sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Room ID is required")
		return
	}
	roomID, err := uuid.Parse(req.RoomID)
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	room, ok := h.authorize(c, roomID)
	if !ok {
		return
	}
	if h.vendor == nil || h.claims == nil || h.jobs == nil {
		response.Coded(c, http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "recording sync is not configured", "")
		return
	}
	if room.DailyRoomName == "" {
		response.OK(c, SyncResult{})
		return
	}

	res, err := h.sync(c.Request.Context(), room)
	switch {
	case errors.Is(err, daily.ErrNotConfigured):
		response.Coded(c, http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "video provider is not configured", "")
	case err != nil:
		h.logger.Error("recording sync failed", zap.Error(err), zap.String("room_id", roomID.String()))
		response.Internal(c, "failed to sync recordings")
	default:
		response.OK(c, res)
	}
}

func (h *Handler) sync(ctx context.Context, room *models.Room) (SyncResult, error) {
	var res SyncResult
	list, err := h.vendor.ListRecordings(ctx, room.DailyRoomName)
	if err != nil {
		return res, err
	}
	for _, info := range list {
		if info.ID == "" || !info.Finished() {
			continue
		}
		res.Found++
		rec, err := h.claims.UpsertReady(ctx, Ready{
			RoomID:           room.ID,
			DailyRecordingID: info.ID,
			StoragePath:      info.S3Key,
			DurationSeconds:  roundSeconds(info.Duration),
		})
		if err != nil {
			return res, err
		}
		if rec == nil {
			res.Skipped++
			continue
		}
		err = h.jobs.EnqueueRecordingMigrate(ctx, queue.RecordingMigratePayload{
			RecordingID:      rec.ID,
			RoomID:           room.ID,
			DailyRecordingID: info.ID,
			Transcribe:       room.EnableTranscription,
		})
		if err != nil {
			if _, markErr := h.claims.MarkFailed(ctx, info.ID, "migration not queued: "+err.Error()); markErr != nil {
				h.logger.Error("release recording claim failed", zap.String("daily_recording_id", info.ID), zap.Error(markErr))
			}
			return res, fmt.Errorf("enqueue migration: %w", err)
		}
		res.Queued++
		h.logger.Info("recording queued by sync",
			zap.String("recording_id", rec.ID.String()),
			zap.String("daily_recording_id", info.ID))
	}
	return res, nil
}

func roundSeconds(d float64) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d))
}
