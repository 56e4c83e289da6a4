package recordings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
	"github.com/bpoc/video-calls/pkg/queue"
)

type memRecordings struct {
	byDaily map[string]*models.Recording
	failed  map[string]string
}

func newMemRecordings() *memRecordings {
	return &memRecordings{byDaily: map[string]*models.Recording{}, failed: map[string]string{}}
}

func (m *memRecordings) Started(_ context.Context, roomID uuid.UUID, id string) error {
	if _, ok := m.byDaily[id]; !ok {
		m.byDaily[id] = &models.Recording{ID: uuid.New(), RoomID: roomID, DailyRecordingID: id, Status: models.RecordingStatusRecording}
	}
	return nil
}

func (m *memRecordings) UpsertReady(_ context.Context, in Ready) (*models.Recording, error) {
	rec, ok := m.byDaily[in.DailyRecordingID]
	if ok && (rec.Status == models.RecordingStatusProcessing || rec.Status == models.RecordingStatusReady) {
		return nil, nil
	}
	if !ok {
		rec = &models.Recording{ID: uuid.New(), RoomID: in.RoomID, DailyRecordingID: in.DailyRecordingID, StorageProvider: models.StorageDaily}
		m.byDaily[in.DailyRecordingID] = rec
	}
	rec.Status = models.RecordingStatusProcessing
	rec.StoragePath = in.StoragePath
	rec.DurationSeconds = in.DurationSeconds
	return rec, nil
}

func (m *memRecordings) MarkFailed(_ context.Context, id, message string) (bool, error) {
	m.failed[id] = message
	rec, ok := m.byDaily[id]
	if ok {
		rec.Status = models.RecordingStatusFailed
	}
	return ok, nil
}

type memRooms struct {
	room     *models.Room
	advanced []models.RoomStatus
	ended    *int
}

func (m *memRooms) GetByName(_ context.Context, name string) (*models.Room, error) {
	if m.room != nil && m.room.DailyRoomName == name {
		return m.room, nil
	}
	return nil, nil
}

func (m *memRooms) Advance(_ context.Context, _ database.DB, _ uuid.UUID, next models.RoomStatus, _ time.Time) (bool, error) {
	m.advanced = append(m.advanced, next)
	return true, nil
}

func (m *memRooms) End(_ context.Context, _ uuid.UUID, _ time.Time, duration *int) (bool, error) {
	if m.room.Status == models.RoomStatusEnded {
		return false, nil
	}
	m.room.Status = models.RoomStatusEnded
	m.ended = duration
	return true, nil
}

type ledgerCall struct {
	userID uuid.UUID
	name   string
	role   string
	left   bool
}

type memLedger struct{ calls []ledgerCall }

func (l *memLedger) MarkJoined(_ context.Context, _ database.DB, _, userID uuid.UUID, name, role string, _ time.Time) error {
	l.calls = append(l.calls, ledgerCall{userID: userID, name: name, role: role})
	return nil
}

func (l *memLedger) MarkLeft(_ context.Context, _, userID uuid.UUID, _ time.Time) error {
	l.calls = append(l.calls, ledgerCall{userID: userID, left: true})
	return nil
}

type memJobs struct {
	jobs []queue.RecordingMigratePayload
	err  error
}

func (j *memJobs) EnqueueRecordingMigrate(_ context.Context, p queue.RecordingMigratePayload) error {
	if j.err != nil {
		return j.err
	}
	j.jobs = append(j.jobs, p)
	return nil
}

type memDedupe struct{ seen map[string]bool }

func (d *memDedupe) MarkOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *memDedupe) Release(_ context.Context, key string) error {
	delete(d.seen, key)
	return nil
}

type notified struct {
	users  []uuid.UUID
	events []string
}

func (n *notified) Notify(_ context.Context, userID uuid.UUID, event string, _ any) {
	n.users = append(n.users, userID)
	n.events = append(n.events, event)
}

type webhookFixture struct {
	h      *WebhookHandler
	recs   *memRecordings
	rooms  *memRooms
	ledger *memLedger
	jobs   *memJobs
	notes  *notified
	room   *models.Room
}

func newWebhookFixture(secret string) *webhookFixture {
	room := &models.Room{
		ID:                  uuid.New(),
		DailyRoomName:       "r1-jane-mar4-ab12",
		HostUserID:          uuid.New(),
		ParticipantUserID:   uuid.New(),
		Status:              models.RoomStatusWaiting,
		EnableTranscription: true,
	}
	f := &webhookFixture{
		recs:   newMemRecordings(),
		rooms:  &memRooms{room: room},
		ledger: &memLedger{},
		jobs:   &memJobs{},
		notes:  &notified{},
		room:   room,
	}
	f.h = NewWebhookHandler(WebhookDeps{
		Recordings: f.recs,
		Rooms:      f.rooms,
		Ledger:     f.ledger,
		Jobs:       f.jobs,
		Dedupe:     &memDedupe{seen: map[string]bool{}},
		Notifier:   f.notes,
		Secret:     secret,
	})
	return f
}

func (f *webhookFixture) deliver(t *testing.T, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/daily", f.h.Daily)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/daily", bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"meeting.started"}`)
	sig := Sign("s3cret", "1700000000", body)

	assert.NoError(t, Verify("s3cret", sig, "1700000000", body))
	assert.NoError(t, Verify("", "", "", body))
	assert.ErrorIs(t, Verify("s3cret", "", "1700000000", body), errMissingSignature)
	assert.ErrorIs(t, Verify("s3cret", sig, "", body), errMissingTimestamp)
	assert.ErrorIs(t, Verify("s3cret", sig, "1700000001", body), errSignatureInvalid)
	assert.ErrorIs(t, Verify("s3cret", "short", "1700000000", body), errSignatureLength)
}

func TestDecodeEventShapes(t *testing.T) {
	legacy, err := DecodeEvent([]byte(`{"event":"recording.ready","room_name":"r1-a","recording":{"id":"rec-1","duration":61.6,"s3key":"k/1.mp4"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventRecordingReady, legacy.Name())
	assert.Equal(t, "r1-a", legacy.RoomName())
	assert.Equal(t, "rec-1", legacy.RecordingID())
	assert.Equal(t, 62, legacy.DurationSeconds())
	assert.Equal(t, "k/1.mp4", legacy.S3Key())

	v1, err := DecodeEvent([]byte(`{"type":"recording.ready-to-download","id":"evt-9","payload":{"recording_id":"rec-2","room_name":"r1-b","duration":"30","s3_key":"k/2.mp4"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventRecordingReadyToDownload, v1.Name())
	assert.Equal(t, "r1-b", v1.RoomName())
	assert.Equal(t, "rec-2", v1.RecordingID())
	assert.Equal(t, 30, v1.DurationSeconds())
	assert.Equal(t, "k/2.mp4", v1.S3Key())
	assert.Equal(t, "webhook:daily:evt-9", v1.dedupeKey())

	joined, err := DecodeEvent([]byte(`{"type":"participant.joined","payload":{"room":"r1-c","user_id":"u","user_name":"Jane Doe — Candidate"}}`))
	require.NoError(t, err)
	id, name := joined.Who()
	assert.Equal(t, "r1-c", joined.RoomName())
	assert.Equal(t, "u", id)
	assert.Equal(t, "Jane Doe — Candidate", name)
	assert.Empty(t, joined.dedupeKey())

	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestRecordingReadyQueuesMigrationOnce(t *testing.T) {
	f := newWebhookFixture("")
	body := `{"type":"recording.ready-to-download","payload":{"recording_id":"rec-1","room_name":"` + f.room.DailyRoomName + `","duration":42}}`

	f.deliver(t, body, nil)
	f.deliver(t, body, nil)

	require.Len(t, f.jobs.jobs, 1)
	job := f.jobs.jobs[0]
	assert.Equal(t, f.room.ID, job.RoomID)
	assert.Equal(t, "rec-1", job.DailyRecordingID)
	assert.True(t, job.Transcribe)
	assert.Equal(t, f.recs.byDaily["rec-1"].ID, job.RecordingID)
	assert.Equal(t, 42, f.recs.byDaily["rec-1"].DurationSeconds)
}

func TestRecordingReadySkipsAlreadyProcessing(t *testing.T) {
	f := newWebhookFixture("")
	f.recs.byDaily["rec-1"] = &models.Recording{ID: uuid.New(), DailyRecordingID: "rec-1", Status: models.RecordingStatusReady}

	require.NoError(t, f.h.Handle(testContext(t), &Event{Event: EventRecordingReady,
		Fields: Fields{RoomName: f.room.DailyRoomName, RecordingID: "rec-1"}}))
	assert.Empty(t, f.jobs.jobs)
}

func TestRecordingReadyUnknownRoomIsIgnored(t *testing.T) {
	f := newWebhookFixture("")
	w := f.deliver(t, `{"event":"recording.ready","room_name":"nope","recording":{"id":"rec-1"}}`, nil)
	assert.Contains(t, w.Body.String(), `"received":"recording.ready"`)
	assert.Empty(t, f.jobs.jobs)
	assert.Empty(t, f.recs.byDaily)
}

func TestEnqueueFailureStillAnswers200(t *testing.T) {
	f := newWebhookFixture("")
	f.jobs.err = errors.New("redis down")
	w := f.deliver(t, `{"event":"recording.ready","room_name":"`+f.room.DailyRoomName+`","recording":{"id":"rec-1"}}`, nil)
	assert.Contains(t, w.Body.String(), `"error":"logged"`)
}

func TestEnqueueFailureLeavesRecordingForRedelivery(t *testing.T) {
	bodies := map[string]string{
		"with event id":    `{"id":"evt-1","event":"recording.ready-to-download","payload":{"recording_id":"rec-1","room_name":"%s"}}`,
		"without event id": `{"event":"recording.ready","room_name":"%s","recording":{"id":"rec-1"}}`,
	}
	for name, tmpl := range bodies {
		t.Run(name, func(t *testing.T) {
			f := newWebhookFixture("")
			body := fmt.Sprintf(tmpl, f.room.DailyRoomName)

			f.jobs.err = errors.New("redis down")
			f.deliver(t, body, nil)
			require.Contains(t, f.recs.byDaily, "rec-1")
			assert.Equal(t, models.RecordingStatusFailed, f.recs.byDaily["rec-1"].Status)
			assert.Contains(t, f.recs.failed["rec-1"], "redis down")
			assert.Empty(t, f.jobs.jobs)

			f.jobs.err = nil
			w := f.deliver(t, body, nil)
			assert.NotContains(t, w.Body.String(), `"duplicate"`)
			assert.Equal(t, models.RecordingStatusProcessing, f.recs.byDaily["rec-1"].Status)
			require.Len(t, f.jobs.jobs, 1)
			assert.Equal(t, f.recs.byDaily["rec-1"].ID, f.jobs.jobs[0].RecordingID)

			w = f.deliver(t, body, nil)
			assert.Contains(t, w.Body.String(), `"duplicate":true`)
			assert.Len(t, f.jobs.jobs, 1)
		})
	}
}

func TestBadSignatureIsLoggedNotRejected(t *testing.T) {
	f := newWebhookFixture("s3cret")
	body := `{"event":"recording.started","room_name":"` + f.room.DailyRoomName + `","recording":{"id":"rec-7"}}`
	f.deliver(t, body, map[string]string{"X-Webhook-Signature": "bogus", "X-Webhook-Timestamp": "1"})
	assert.Equal(t, models.RecordingStatusRecording, f.recs.byDaily["rec-7"].Status)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	f.deliver(t, `{"event":"garbage"}`, map[string]string{"X-Daily-Signature": Sign("s3cret", ts, []byte(`{"event":"garbage"}`)), "X-Daily-Timestamp": ts})
}

func TestRecordingErrorMarksFailed(t *testing.T) {
	f := newWebhookFixture("")
	f.recs.byDaily["rec-1"] = &models.Recording{ID: uuid.New(), DailyRecordingID: "rec-1", Status: models.RecordingStatusRecording}
	f.deliver(t, `{"event":"recording.error","room_name":"`+f.room.DailyRoomName+`","payload":{"recording_id":"rec-1","error":"disk full"}}`, nil)
	assert.Equal(t, models.RecordingStatusFailed, f.recs.byDaily["rec-1"].Status)
	assert.Equal(t, "disk full", f.recs.failed["rec-1"])
}

func TestMeetingEndedEndsRoomOnce(t *testing.T) {
	f := newWebhookFixture("")
	body := `{"event":"meeting.ended","room_name":"` + f.room.DailyRoomName + `","duration":3600}`
	f.deliver(t, body, nil)
	f.deliver(t, body, nil)

	assert.Equal(t, models.RoomStatusEnded, f.room.Status)
	require.NotNil(t, f.rooms.ended)
	assert.Equal(t, 3600, *f.rooms.ended)
	assert.Equal(t, []uuid.UUID{f.room.HostUserID, f.room.ParticipantUserID}, f.notes.users)
}

func TestParticipantJoinedAndLeft(t *testing.T) {
	f := newWebhookFixture("")
	joined := `{"type":"participant.joined","payload":{"room":"` + f.room.DailyRoomName +
		`","user_id":"` + f.room.ParticipantUserID.String() + `","user_name":"Jane Doe — Candidate"}}`
	f.deliver(t, joined, nil)

	assert.Equal(t, []models.RoomStatus{models.RoomStatusActive}, f.rooms.advanced)
	require.Len(t, f.ledger.calls, 1)
	assert.Equal(t, ledgerCall{userID: f.room.ParticipantUserID, name: "Jane Doe", role: models.ParticipantRoleCandidate}, f.ledger.calls[0])

	f.deliver(t, `{"type":"participant.joined","payload":{"room":"`+f.room.DailyRoomName+
		`","user_id":"`+f.room.HostUserID.String()+`","user_name":"Rita Cruz — Recruiter"}}`, nil)
	assert.Equal(t, models.ParticipantRoleHost, f.ledger.calls[1].role)

	f.deliver(t, `{"type":"participant.left","payload":{"room":"`+f.room.DailyRoomName+
		`","user_id":"`+f.room.ParticipantUserID.String()+`"}}`, nil)
	require.Len(t, f.ledger.calls, 3)
	assert.True(t, f.ledger.calls[2].left)
}

func TestParticipantWithoutAccountOnlyActivatesRoom(t *testing.T) {
	f := newWebhookFixture("")
	f.deliver(t, `{"type":"participant.joined","payload":{"room":"`+f.room.DailyRoomName+`","user_id":"guest-123","user_name":"Guest"}}`, nil)
	assert.Len(t, f.rooms.advanced, 1)
	assert.Empty(t, f.ledger.calls)
}
