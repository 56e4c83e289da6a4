package transcripts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/middleware"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/response"
)

// TriggerRequest is the body for POST /video/transcribe and /video/transcribe/retry.
type TriggerRequest struct {
	RecordingID  string `json:"recordingId"`
	RoomID       string `json:"roomId"`
	AudioURL     string `json:"audioUrl"`
	Source       string `json:"source"`
	TranscriptID string `json:"transcriptId"`
}

// Handler serves transcription endpoints.
type Handler struct {
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewHandler creates a transcripts handler.
func NewHandler(pipeline *Pipeline, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pipeline: pipeline, logger: logger}
}

// Trigger handles POST /video/transcribe.
func (h *Handler) Trigger(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	out, err := h.pipeline.Run(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{"success": true, "transcript": out.Transcript}
	if out.Existing {
		body["message"] = "Transcript already exists"
	}
	c.JSON(http.StatusOK, body)
}

// Retry handles POST /video/transcribe/retry.
func (h *Handler) Retry(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	out, err := h.pipeline.Retry(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transcript": out.Transcript, "message": "Transcription retried"})
}

// List handles GET /video/transcribe?roomId=.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	roomID, err := uuid.Parse(c.Query("roomId"))
	if err != nil {
		response.BadRequest(c, "Room ID is required")
		return
	}
	ctx := c.Request.Context()
	room, err := h.pipeline.Rooms.Get(ctx, roomID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if room == nil {
		response.NotFound(c, "Room not found")
		return
	}
	if !h.pipeline.CanAccess(ctx, room, userID) {
		response.Forbidden(c, "Unauthorized")
		return
	}
	list, err := h.pipeline.Store.ListByRoom(ctx, roomID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []*models.Transcript{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transcripts": list})
}

func (h *Handler) bind(c *gin.Context) (Request, bool) {
	var body TriggerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return Request{}, false
	}
	req := Request{
		RecordingID: body.RecordingID,
		AudioURL:    body.AudioURL,
		Source:      body.Source,
		Internal:    middleware.IsInternal(c),
	}
	if !req.Internal {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Unauthorized(c, "authentication required")
			return Request{}, false
		}
		req.UserID = userID
	}
	for _, f := range []struct {
		raw string
		dst **uuid.UUID
	}{{body.RoomID, &req.RoomID}, {body.TranscriptID, &req.TranscriptID}} {
		if f.raw == "" {
			continue
		}
		id, err := uuid.Parse(f.raw)
		if err != nil {
			response.BadRequest(c, "invalid id: "+f.raw)
			return Request{}, false
		}
		*f.dst = &id
	}
	return req, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	if pe, ok := AsPipelineError(err); ok {
		response.Coded(c, pe.Status, pe.Code, pe.Message, pe.Details)
		return
	}
	switch {
	case errors.Is(err, ErrTargetRequired), errors.Is(err, ErrNotRetryable):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrRecordingNotFound), errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrNoTranscript):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, "Unauthorized")
	default:
		h.logger.Error("transcription request failed", zap.Error(err))
		pe := Classify(err)
		response.Coded(c, pe.Status, pe.Code, pe.Message, pe.Details)
	}
}
