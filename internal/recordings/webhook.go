package recordings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/internal/rooms"
	"github.com/bpoc/video-calls/pkg/database"
	"github.com/bpoc/video-calls/pkg/metrics"
	"github.com/bpoc/video-calls/pkg/queue"
)

// Vendor event names.
const (
	EventRecordingReady           = "recording.ready"
	EventRecordingReadyToDownload = "recording.ready-to-download"
	EventRecordingStarted         = "recording.started"
	EventRecordingError           = "recording.error"
	EventMeetingStarted           = "meeting.started"
	EventMeetingEnded             = "meeting.ended"
	EventParticipantJoined        = "participant.joined"
	EventParticipantLeft          = "participant.left"
)

const (
	dedupeTTL    = 24 * time.Hour
	maxBodyBytes = 1 << 20
)

// WebhookRecordings is the recording state the webhook moves.
type WebhookRecordings interface {
	Started(ctx context.Context, roomID uuid.UUID, dailyRecordingID string) error
	UpsertReady(ctx context.Context, in Ready) (*models.Recording, error)
	MarkFailed(ctx context.Context, dailyRecordingID, message string) (bool, error)
}

// WebhookRooms is the room state the webhook moves.
type WebhookRooms interface {
	GetByName(ctx context.Context, name string) (*models.Room, error)
	Advance(ctx context.Context, db database.DB, id uuid.UUID, next models.RoomStatus, at time.Time) (bool, error)
	End(ctx context.Context, id uuid.UUID, at time.Time, duration *int) (bool, error)
}

// Ledger records attendance.
type Ledger interface {
	MarkJoined(ctx context.Context, db database.DB, roomID, userID uuid.UUID, name, role string, at time.Time) error
	MarkLeft(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error
}

// Jobs enqueues background work.
type Jobs interface {
	EnqueueRecordingMigrate(ctx context.Context, payload queue.RecordingMigratePayload) error
}

// Deduper remembers deliveries already handled. Release forgets a delivery so a
// redelivery is processed again.
type Deduper interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Notifier pushes in-app events to a user.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data any)
}

// WebhookDeps wires the webhook handler. Dedupe and Notifier may be nil.
type WebhookDeps struct {
	Recordings WebhookRecordings
	Rooms      WebhookRooms
	Ledger     Ledger
	Jobs       Jobs
	Dedupe     Deduper
	Notifier   Notifier
	Secret     string
	Logger     *zap.Logger
	Now        func() time.Time
}

// WebhookHandler handles vendor webhooks. Every delivery is answered with 200 so
// the vendor never disables the endpoint; problems are logged.
type WebhookHandler struct {
	WebhookDeps
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(d WebhookDeps) *WebhookHandler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &WebhookHandler{WebhookDeps: d}
}

// Fields are the keys a delivery may carry at the top level, under payload or under recording.
type Fields struct {
	ID          string  `mapstructure:"id"`
	RecordingID string  `mapstructure:"recording_id"`
	RoomName    string  `mapstructure:"room_name"`
	Room        string  `mapstructure:"room"`
	Duration    float64 `mapstructure:"duration"`
	S3Key       string  `mapstructure:"s3_key"`
	S3KeyAlt    string  `mapstructure:"s3key"`
	Error       string  `mapstructure:"error"`
	UserID      string  `mapstructure:"user_id"`
	UserName    string  `mapstructure:"user_name"`
}

// Event is a decoded vendor delivery.
type Event struct {
	Fields      `mapstructure:",squash"`
	Event       string `mapstructure:"event"`
	Type        string `mapstructure:"type"`
	Payload     Fields `mapstructure:"payload"`
	Recording   Fields `mapstructure:"recording"`
	Participant Fields `mapstructure:"participant"`
}

// DecodeEvent decodes a raw delivery. Unknown keys and loose numeric types are tolerated.
func DecodeEvent(raw []byte) (*Event, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	var ev Event
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &ev,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Name is the event name, from "event" or "type".
func (e *Event) Name() string {
	if e.Event != "" {
		return e.Event
	}
	return e.Type
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// RoomName is the vendor room the event belongs to.
func (e *Event) RoomName() string {
	return first(e.Fields.RoomName, e.Payload.RoomName, e.Payload.Room, e.Recording.RoomName, e.Fields.Room)
}

// RecordingID is the vendor recording id.
func (e *Event) RecordingID() string {
	return first(e.Payload.RecordingID, e.Recording.ID, e.Recording.RecordingID, e.Fields.RecordingID, e.Payload.ID)
}

// DurationSeconds is the reported duration rounded to whole seconds.
func (e *Event) DurationSeconds() int {
	for _, d := range []float64{e.Payload.Duration, e.Recording.Duration, e.Fields.Duration} {
		if d > 0 {
			return int(math.Round(d))
		}
	}
	return 0
}

// S3Key is the vendor-side object key, when reported.
func (e *Event) S3Key() string {
	return first(e.Payload.S3Key, e.Payload.S3KeyAlt, e.Recording.S3Key, e.Recording.S3KeyAlt, e.Fields.S3Key)
}

// ErrorMessage is the vendor's failure text.
func (e *Event) ErrorMessage() string {
	return first(e.Fields.Error, e.Payload.Error, e.Recording.Error)
}

// Who returns the participant user id and display name.
func (e *Event) Who() (string, string) {
	return first(e.Participant.UserID, e.Payload.UserID, e.Fields.UserID),
		first(e.Participant.UserName, e.Payload.UserName, e.Fields.UserName)
}

// dedupeKey identifies a delivery. Events without an id dedupe on name and subject.
func (e *Event) dedupeKey() string {
	if id := e.Fields.ID; id != "" {
		return "webhook:daily:" + id
	}
	if e.Name() == EventParticipantJoined || e.Name() == EventParticipantLeft {
		return ""
	}
	if rid := e.RecordingID(); rid != "" {
		return "webhook:daily:" + e.Name() + ":" + rid
	}
	return ""
}

func eventLabel(name string) string {
	switch name {
	case EventRecordingReady, EventRecordingReadyToDownload, EventRecordingStarted, EventRecordingError,
		EventMeetingStarted, EventMeetingEnded, EventParticipantJoined, EventParticipantLeft:
		return name
	}
	return "other"
}

// Daily handles POST /webhooks/daily.
func (h *WebhookHandler) Daily(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.Logger.Error("read webhook body failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": true, "error": "logged"})
		return
	}

	sig, ts := signatureHeaders(c.Request.Header)
	if err := Verify(h.Secret, sig, ts, raw); err != nil {
		h.Logger.Warn("webhook signature not verified", zap.Error(err))
	}

	ev, err := DecodeEvent(raw)
	if err != nil {
		h.Logger.Error("decode webhook failed", zap.Error(err), zap.Int("bytes", len(raw)))
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid").Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "error": "logged"})
		return
	}
	name := ev.Name()
	ctx := context.WithoutCancel(c.Request.Context())

	key := ev.dedupeKey()
	marked := false
	if key != "" && h.Dedupe != nil {
		fresh, err := h.Dedupe.MarkOnce(ctx, key, dedupeTTL)
		if err != nil {
			h.Logger.Warn("webhook dedupe unavailable", zap.Error(err))
		} else if !fresh {
			metrics.WebhookEvents.WithLabelValues(eventLabel(name), "duplicate").Inc()
			c.JSON(http.StatusOK, gin.H{"success": true, "received": name, "duplicate": true})
			return
		}
		marked = err == nil
	}

	if err := h.Handle(ctx, ev); err != nil {
		h.Logger.Error("webhook event failed", zap.String("event", name), zap.String("room", ev.RoomName()), zap.Error(err))
		if marked {
			if relErr := h.Dedupe.Release(ctx, key); relErr != nil {
				h.Logger.Warn("webhook dedupe release failed", zap.String("key", key), zap.Error(relErr))
			}
		}
		metrics.WebhookEvents.WithLabelValues(eventLabel(name), "error").Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "received": name, "error": "logged"})
		return
	}
	metrics.WebhookEvents.WithLabelValues(eventLabel(name), "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"success": true, "received": name})
}

// Handle applies one decoded event.
func (h *WebhookHandler) Handle(ctx context.Context, ev *Event) error {
	switch ev.Name() {
	case EventRecordingReady, EventRecordingReadyToDownload:
		return h.recordingReady(ctx, ev)
	case EventRecordingStarted:
		return h.recordingStarted(ctx, ev)
	case EventRecordingError:
		return h.recordingError(ctx, ev)
	case EventMeetingStarted:
		h.Logger.Info("meeting started", zap.String("room", ev.RoomName()))
	case EventMeetingEnded:
		return h.meetingEnded(ctx, ev)
	case EventParticipantJoined:
		return h.participantJoined(ctx, ev)
	case EventParticipantLeft:
		return h.participantLeft(ctx, ev)
	default:
		h.Logger.Info("unhandled webhook event", zap.String("event", ev.Name()))
	}
	return nil
}

func (h *WebhookHandler) room(ctx context.Context, ev *Event) (*models.Room, error) {
	name := ev.RoomName()
	if name == "" {
		h.Logger.Warn("webhook event without room name", zap.String("event", ev.Name()))
		return nil, nil
	}
	room, err := h.Rooms.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if room == nil {
		h.Logger.Warn("webhook room not found", zap.String("event", ev.Name()), zap.String("daily_room", name))
	}
	return room, nil
}

func (h *WebhookHandler) recordingReady(ctx context.Context, ev *Event) error {
	recordingID := ev.RecordingID()
	if recordingID == "" {
		h.Logger.Error("recording event without recording id", zap.String("event", ev.Name()))
		return nil
	}
	room, err := h.room(ctx, ev)
	if err != nil || room == nil {
		return err
	}
	rec, err := h.Recordings.UpsertReady(ctx, Ready{
		RoomID:           room.ID,
		DailyRecordingID: recordingID,
		StoragePath:      ev.S3Key(),
		DurationSeconds:  ev.DurationSeconds(),
	})
	if err != nil {
		return err
	}
	if rec == nil {
		h.Logger.Info("recording already processed", zap.String("daily_recording_id", recordingID))
		return nil
	}
	err = h.Jobs.EnqueueRecordingMigrate(ctx, queue.RecordingMigratePayload{
		RecordingID:      rec.ID,
		RoomID:           room.ID,
		DailyRecordingID: recordingID,
		Transcribe:       room.EnableTranscription,
	})
	if err != nil {
		// Leave the row re-claimable so a redelivery or a manual sync queues it again.
		if _, markErr := h.Recordings.MarkFailed(ctx, recordingID, "migration not queued: "+err.Error()); markErr != nil {
			h.Logger.Error("release recording claim failed", zap.String("daily_recording_id", recordingID), zap.Error(markErr))
		}
		return fmt.Errorf("enqueue migration: %w", err)
	}
	h.Logger.Info("recording queued for migration",
		zap.String("recording_id", rec.ID.String()),
		zap.String("room_id", room.ID.String()),
		zap.Bool("transcribe", room.EnableTranscription))
	return nil
}

func (h *WebhookHandler) recordingStarted(ctx context.Context, ev *Event) error {
	recordingID := ev.RecordingID()
	if recordingID == "" {
		return nil
	}
	room, err := h.room(ctx, ev)
	if err != nil || room == nil {
		return err
	}
	return h.Recordings.Started(ctx, room.ID, recordingID)
}

func (h *WebhookHandler) recordingError(ctx context.Context, ev *Event) error {
	recordingID := ev.RecordingID()
	if recordingID == "" {
		return nil
	}
	msg := ev.ErrorMessage()
	if msg == "" {
		msg = "recording failed at the vendor"
	}
	ok, err := h.Recordings.MarkFailed(ctx, recordingID, msg)
	if err != nil {
		return err
	}
	h.Logger.Warn("recording failed", zap.String("daily_recording_id", recordingID), zap.String("error", msg), zap.Bool("known", ok))
	return nil
}

func (h *WebhookHandler) meetingEnded(ctx context.Context, ev *Event) error {
	room, err := h.room(ctx, ev)
	if err != nil || room == nil {
		return err
	}
	var duration *int
	if d := ev.DurationSeconds(); d > 0 {
		duration = &d
	}
	ended, err := h.Rooms.End(ctx, room.ID, h.Now(), duration)
	if err != nil {
		return err
	}
	if ended && h.Notifier != nil {
		for _, uid := range []uuid.UUID{room.HostUserID, room.ParticipantUserID} {
			h.Notifier.Notify(ctx, uid, rooms.EventRoomEnded, map[string]any{"roomId": room.ID})
		}
	}
	return nil
}

func (h *WebhookHandler) participant(ctx context.Context, ev *Event) (*models.Room, uuid.UUID, string, error) {
	room, err := h.room(ctx, ev)
	if err != nil || room == nil {
		return nil, uuid.Nil, "", err
	}
	rawID, name := ev.Who()
	userID, err := uuid.Parse(rawID)
	if err != nil {
		h.Logger.Info("participant without account id", zap.String("daily_room", room.DailyRoomName), zap.String("name", name))
		return room, uuid.Nil, daily.StripRoleSuffix(name), nil
	}
	return room, userID, daily.StripRoleSuffix(name), nil
}

func (h *WebhookHandler) participantJoined(ctx context.Context, ev *Event) error {
	room, userID, name, err := h.participant(ctx, ev)
	if err != nil || room == nil {
		return err
	}
	now := h.Now()
	if _, err := h.Rooms.Advance(ctx, nil, room.ID, models.RoomStatusActive, now); err != nil {
		return err
	}
	if userID == uuid.Nil {
		return nil
	}
	role := models.ParticipantRoleGuest
	switch userID {
	case room.HostUserID:
		role = models.ParticipantRoleHost
	case room.ParticipantUserID:
		role = models.ParticipantRoleCandidate
	}
	return h.Ledger.MarkJoined(ctx, nil, room.ID, userID, name, role, now)
}

func (h *WebhookHandler) participantLeft(ctx context.Context, ev *Event) error {
	room, userID, _, err := h.participant(ctx, ev)
	if err != nil || room == nil || userID == uuid.Nil {
		return err
	}
	return h.Ledger.MarkLeft(ctx, room.ID, userID, h.Now())
}
