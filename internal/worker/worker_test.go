package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/internal/transcripts"
	"github.com/bpoc/video-calls/pkg/queue"
)

type fakeQueue struct {
	jobs          []*queue.Job
	retried       []*queue.Job
	transcription []queue.TranscriptionPayload
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	if len(q.jobs) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, nil
}

func (q *fakeQueue) Retry(_ context.Context, job *queue.Job) (bool, error) {
	job.Attempt++
	q.retried = append(q.retried, job)
	return job.Attempt >= queue.MaxRetries, nil
}

func (q *fakeQueue) EnqueueTranscription(_ context.Context, p queue.TranscriptionPayload) error {
	q.transcription = append(q.transcription, p)
	return nil
}

type fakeRecordings struct {
	rec        *models.Recording
	vendorLink string
}

func (f *fakeRecordings) Get(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	if f.rec != nil && f.rec.ID == id {
		return f.rec, nil
	}
	return nil, nil
}

func (f *fakeRecordings) SetVendorLink(_ context.Context, _ uuid.UUID, url string) error {
	f.vendorLink = url
	f.rec.DownloadURL = url
	f.rec.Status = models.RecordingStatusReady
	return nil
}

func (f *fakeRecordings) SetOwnedStorage(_ context.Context, _ uuid.UUID, provider, path, url string, size int64) error {
	f.rec.StorageProvider = provider
	f.rec.StoragePath = path
	f.rec.RecordingURL = url
	f.rec.FileSizeBytes = size
	return nil
}

type fakeLinks struct{ url string }

func (f fakeLinks) RecordingAccessLink(context.Context, string) (*daily.AccessLink, error) {
	return &daily.AccessLink{DownloadLink: f.url}, nil
}

type fakeUploader struct {
	keys []string
	body []byte
	err  error
}

func (u *fakeUploader) UploadRecording(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	u.keys = append(u.keys, key)
	u.body = b
	return "https://bucket.example/" + key, nil
}

type fakePipeline struct {
	reqs []transcripts.Request
	err  error
}

func (f *fakePipeline) Run(_ context.Context, req transcripts.Request) (*transcripts.Outcome, error) {
	f.reqs = append(f.reqs, req)
	return &transcripts.Outcome{}, f.err
}

type workerFixture struct {
	p        *Processor
	q        *fakeQueue
	recs     *fakeRecordings
	uploader *fakeUploader
	pipeline *fakePipeline
	rec      *models.Recording
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("fake-media-bytes"))
	}))
	t.Cleanup(media.Close)

	rec := &models.Recording{ID: uuid.New(), RoomID: uuid.New(), DailyRecordingID: "rec-1",
		StorageProvider: models.StorageDaily, Status: models.RecordingStatusProcessing}
	f := &workerFixture{
		q:        &fakeQueue{},
		recs:     &fakeRecordings{rec: rec},
		uploader: &fakeUploader{},
		pipeline: &fakePipeline{},
		rec:      rec,
	}
	f.p = NewProcessor(Deps{
		Queue:       f.q,
		Recordings:  f.recs,
		Links:       fakeLinks{url: media.URL + "/rec-1.mp4"},
		Uploader:    f.uploader,
		Transcriber: f.pipeline,
		Backoff:     time.Millisecond,
	})
	return f
}

func migrateJob(t *testing.T, rec *models.Recording, transcribe bool) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(queue.RecordingMigratePayload{
		RecordingID: rec.ID, RoomID: rec.RoomID, DailyRecordingID: rec.DailyRecordingID, Transcribe: transcribe,
	})
	require.NoError(t, err)
	return &queue.Job{ID: "job-1", Type: queue.JobTypeRecordingMigrate, Payload: raw}
}

func TestMigrateCopiesToS3AndQueuesTranscription(t *testing.T) {
	f := newWorkerFixture(t)
	require.NoError(t, f.p.Process(testContext(t), migrateJob(t, f.rec, true)))

	assert.Contains(t, f.recs.vendorLink, "/rec-1.mp4")
	require.Len(t, f.uploader.keys, 1)
	assert.Equal(t, "recordings/"+f.rec.RoomID.String()+"/"+f.rec.ID.String()+".mp4", f.uploader.keys[0])
	assert.Equal(t, models.StorageS3, f.rec.StorageProvider)
	assert.Equal(t, int64(len("fake-media-bytes")), f.rec.FileSizeBytes)
	assert.Equal(t, []queue.TranscriptionPayload{{RecordingID: f.rec.ID, RoomID: f.rec.RoomID, Source: "webhook"}}, f.q.transcription)
}

func TestMigrateWithoutTranscription(t *testing.T) {
	f := newWorkerFixture(t)
	require.NoError(t, f.p.Process(testContext(t), migrateJob(t, f.rec, false)))
	assert.Empty(t, f.q.transcription)
}

func TestMigrateSkipsCopyWhenAlreadyOwned(t *testing.T) {
	f := newWorkerFixture(t)
	f.rec.StorageProvider = models.StorageSupabase
	require.NoError(t, f.p.Process(testContext(t), migrateJob(t, f.rec, true)))
	assert.Empty(t, f.uploader.keys)
	assert.Empty(t, f.recs.vendorLink)
	assert.Len(t, f.q.transcription, 1)
}

func TestMigrateUploadFailureRetriesThenKeepsVendorCopy(t *testing.T) {
	f := newWorkerFixture(t)
	f.uploader.err = errors.New("s3 down")

	job := migrateJob(t, f.rec, true)
	assert.Error(t, f.p.Process(testContext(t), job))
	assert.Empty(t, f.q.transcription)

	job.Attempt = queue.MaxRetries - 1
	require.NoError(t, f.p.Process(testContext(t), job))
	assert.Equal(t, models.StorageDaily, f.rec.StorageProvider)
	assert.Len(t, f.q.transcription, 1)
}

func TestMigrateUnknownRecordingIsPermanent(t *testing.T) {
	f := newWorkerFixture(t)
	other := &models.Recording{ID: uuid.New(), RoomID: uuid.New()}
	err := f.p.Process(testContext(t), migrateJob(t, other, true))
	assert.ErrorIs(t, err, errPermanent)
}

func TestTranscriptionJobRunsPipelineAsInternal(t *testing.T) {
	f := newWorkerFixture(t)
	raw, _ := json.Marshal(queue.TranscriptionPayload{RecordingID: f.rec.ID, RoomID: f.rec.RoomID, Source: "webhook"})
	require.NoError(t, f.p.Process(testContext(t), &queue.Job{Type: queue.JobTypeTranscription, Payload: raw}))

	require.Len(t, f.pipeline.reqs, 1)
	req := f.pipeline.reqs[0]
	assert.True(t, req.Internal)
	assert.Equal(t, f.rec.ID.String(), req.RecordingID)
	assert.Equal(t, f.rec.RoomID, *req.RoomID)
}

func TestTranscriptionFailureClassification(t *testing.T) {
	cases := map[string]bool{
		transcripts.CodeWhisperError:              true,
		transcripts.CodeCloudConvertTimeout:       true,
		transcripts.CodeUnexpected:                true,
		transcripts.CodeEmptyTranscription:        false,
		transcripts.CodeFileTooLarge:              false,
		transcripts.CodeOpenAINotConfigured:       false,
		transcripts.CodeInProgress:                false,
		transcripts.CodeURLExpiredFallbackFailed:  false,
		transcripts.CodeCloudConvertNotConfigured: false,
	}
	for code, retryable := range cases {
		t.Run(code, func(t *testing.T) {
			f := newWorkerFixture(t)
			f.pipeline.err = transcripts.Fail(code, "x", "")
			raw, _ := json.Marshal(queue.TranscriptionPayload{RecordingID: f.rec.ID, RoomID: f.rec.RoomID})
			err := f.p.Process(testContext(t), &queue.Job{Type: queue.JobTypeTranscription, Payload: raw})
			require.Error(t, err)
			assert.Equal(t, !retryable, errors.Is(err, errPermanent))
		})
	}
}

func TestRunRetriesFailedJobsAndDropsPermanentOnes(t *testing.T) {
	f := newWorkerFixture(t)
	f.uploader.err = errors.New("s3 down")
	f.q.jobs = []*queue.Job{
		{ID: "bad", Type: "mystery"},
		migrateJob(t, f.rec, false),
	}

	ctx, cancel := context.WithTimeout(testContext(t), 200*time.Millisecond)
	defer cancel()
	f.p.Run(ctx)

	require.Len(t, f.q.retried, 1)
	assert.Equal(t, "job-1", f.q.retried[0].ID)
	assert.Equal(t, 1, f.q.retried[0].Attempt)
}
