package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/models"
)

type vendorList struct {
	rooms []string
	recs  []daily.RecordingInfo
	err   error
}

func (v *vendorList) ListRecordings(_ context.Context, roomName string) ([]daily.RecordingInfo, error) {
	v.rooms = append(v.rooms, roomName)
	return v.recs, v.err
}

type syncFixture struct {
	room   *models.Room
	vendor *vendorList
	recs   *memRecordings
	jobs   *memJobs
	h      *Handler
}

func newSyncFixture() *syncFixture {
	room := &models.Room{
		ID:                  uuid.New(),
		DailyRoomName:       "r1-jane-mar4-ab12",
		HostUserID:          uuid.New(),
		ParticipantUserID:   uuid.New(),
		EnableTranscription: true,
	}
	f := &syncFixture{
		room: room,
		vendor: &vendorList{recs: []daily.RecordingInfo{
			{ID: "rec-1", Status: "finished", S3Key: "acme/r1/rec-1.mp4", Duration: 61.6},
			{ID: "rec-2", Status: "in-progress"},
			{ID: "rec-3", Status: "finished", Duration: 12},
		}},
		recs: newMemRecordings(),
		jobs: &memJobs{},
	}
	f.h = NewHandler(&listStore{}, oneRoom{room}, partiesOnly{}, nil, nil, nil).WithSync(f.vendor, f.recs, f.jobs)
	return f
}

func (f *syncFixture) post(t *testing.T, userID uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := recordingsRouter(f.h, userID)
	r.POST("/video/recordings/sync", f.h.Sync)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/video/recordings/sync", bytes.NewBufferString(body)))
	return w
}

func syncResult(t *testing.T, w *httptest.ResponseRecorder) SyncResult {
	t.Helper()
	var body struct {
		Data SyncResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data
}

func TestSyncQueuesFinishedRecordings(t *testing.T) {
	f := newSyncFixture()
	w := f.post(t, f.room.ParticipantUserID, `{"roomId":"`+f.room.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, SyncResult{Found: 2, Queued: 2}, syncResult(t, w))
	assert.Equal(t, []string{"r1-jane-mar4-ab12"}, f.vendor.rooms)
	require.Len(t, f.jobs.jobs, 2)
	assert.Equal(t, "rec-1", f.jobs.jobs[0].DailyRecordingID)
	assert.True(t, f.jobs.jobs[0].Transcribe)
	assert.Equal(t, "acme/r1/rec-1.mp4", f.recs.byDaily["rec-1"].StoragePath)
	assert.Equal(t, 62, f.recs.byDaily["rec-1"].DurationSeconds)
	assert.NotContains(t, f.recs.byDaily, "rec-2")
}

func TestSyncSkipsRecordingsAlreadyClaimed(t *testing.T) {
	f := newSyncFixture()
	require.Equal(t, http.StatusOK, f.post(t, f.room.HostUserID, `{"roomId":"`+f.room.ID.String()+`"}`).Code)

	w := f.post(t, f.room.HostUserID, `{"roomId":"`+f.room.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, SyncResult{Found: 2, Skipped: 2}, syncResult(t, w))
	assert.Len(t, f.jobs.jobs, 2)
}

func TestSyncRequeuesAfterEnqueueFailure(t *testing.T) {
	f := newSyncFixture()
	f.jobs.err = errors.New("redis down")
	w := f.post(t, f.room.HostUserID, `{"roomId":"`+f.room.ID.String()+`"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, models.RecordingStatusFailed, f.recs.byDaily["rec-1"].Status)

	f.jobs.err = nil
	w = f.post(t, f.room.HostUserID, `{"roomId":"`+f.room.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, SyncResult{Found: 2, Queued: 2}, syncResult(t, w))
	assert.Equal(t, models.RecordingStatusProcessing, f.recs.byDaily["rec-1"].Status)
}

func TestSyncRejections(t *testing.T) {
	f := newSyncFixture()
	body := `{"roomId":"` + f.room.ID.String() + `"}`

	assert.Equal(t, http.StatusBadRequest, f.post(t, f.room.HostUserID, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post(t, f.room.HostUserID, `{"roomId":"nope"}`).Code)
	assert.Equal(t, http.StatusNotFound, f.post(t, f.room.HostUserID, `{"roomId":"`+uuid.NewString()+`"}`).Code)
	assert.Equal(t, http.StatusForbidden, f.post(t, uuid.New(), body).Code)
	assert.Empty(t, f.vendor.rooms)

	f.vendor.err = daily.ErrNotConfigured
	assert.Equal(t, http.StatusServiceUnavailable, f.post(t, f.room.HostUserID, body).Code)

	unwired := NewHandler(&listStore{}, oneRoom{f.room}, partiesOnly{}, nil, nil, nil)
	r := recordingsRouter(unwired, f.room.HostUserID)
	r.POST("/video/recordings/sync", unwired.Sync)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/video/recordings/sync", bytes.NewBufferString(body)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
