// Package worker runs queued recording jobs and scheduled maintenance.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/internal/transcripts"
	"github.com/bpoc/video-calls/pkg/metrics"
	"github.com/bpoc/video-calls/pkg/queue"
	"github.com/bpoc/video-calls/pkg/storage"
)

const downloadTimeout = 30 * time.Minute

// errPermanent marks failures a retry cannot fix.
var errPermanent = errors.New("permanent job failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", errPermanent, err)
}

// Queue is the job source.
type Queue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (bool, error)
	EnqueueTranscription(ctx context.Context, payload queue.TranscriptionPayload) error
}

// Recordings is the recording state jobs move.
type Recordings interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	SetVendorLink(ctx context.Context, id uuid.UUID, url string) error
	SetOwnedStorage(ctx context.Context, id uuid.UUID, provider, path, url string, size int64) error
}

// AccessLinks issues vendor download links.
type AccessLinks interface {
	RecordingAccessLink(ctx context.Context, recordingID string) (*daily.AccessLink, error)
}

// Uploader stores recording media.
type Uploader interface {
	UploadRecording(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// Transcriber runs the transcription pipeline.
type Transcriber interface {
	Run(ctx context.Context, req transcripts.Request) (*transcripts.Outcome, error)
}

// Deps wires the processor. Uploader nil keeps recordings on the vendor.
type Deps struct {
	Queue       Queue
	Recordings  Recordings
	Links       AccessLinks
	Uploader    Uploader
	Transcriber Transcriber
	HTTP        *http.Client
	Logger      *zap.Logger
	// Backoff is the pause after a failed job. Zero uses queue.RetryBackoff.
	Backoff time.Duration
}

// Processor executes recording migration and transcription jobs.
type Processor struct {
	Deps
}

// NewProcessor creates a job processor.
func NewProcessor(d Deps) *Processor {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: downloadTimeout}
	}
	if d.Backoff <= 0 {
		d.Backoff = queue.RetryBackoff
	}
	return &Processor{Deps: d}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeRecordingMigrate:
		var payload queue.RecordingMigratePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return permanent(fmt.Errorf("unmarshal payload: %w", err))
		}
		return p.migrate(ctx, job, payload)
	case queue.JobTypeTranscription:
		var payload queue.TranscriptionPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return permanent(fmt.Errorf("unmarshal payload: %w", err))
		}
		return p.transcribe(ctx, payload)
	default:
		return permanent(fmt.Errorf("unknown job type: %s", job.Type))
	}
}

// migrate copies a vendor-hosted recording into S3. A failed copy is retried; on the
// last attempt the vendor copy is kept so transcription still happens.
func (p *Processor) migrate(ctx context.Context, job *queue.Job, payload queue.RecordingMigratePayload) error {
	log := p.Logger.With(zap.String("job_id", job.ID), zap.String("recording_id", payload.RecordingID.String()))
	rec, err := p.Recordings.Get(ctx, payload.RecordingID)
	if err != nil {
		return fmt.Errorf("load recording: %w", err)
	}
	if rec == nil {
		return permanent(fmt.Errorf("recording not found: %s", payload.RecordingID))
	}

	if !rec.InOwnedStorage() {
		link, err := p.Links.RecordingAccessLink(ctx, payload.DailyRecordingID)
		if err != nil {
			return fmt.Errorf("vendor access link: %w", err)
		}
		if err := p.Recordings.SetVendorLink(ctx, rec.ID, link.DownloadLink); err != nil {
			return fmt.Errorf("store vendor link: %w", err)
		}
		if p.Uploader != nil {
			if err := p.copyToS3(ctx, rec, link.DownloadLink); err != nil {
				if job.Attempt+1 < queue.MaxRetries {
					return err
				}
				log.Warn("owned copy failed; keeping vendor copy", zap.Error(err))
			} else {
				log.Info("recording copied to owned storage")
			}
		}
	} else {
		log.Info("recording already in owned storage", zap.String("provider", rec.StorageProvider))
	}

	if !payload.Transcribe {
		return nil
	}
	err = p.Queue.EnqueueTranscription(ctx, queue.TranscriptionPayload{
		RecordingID: rec.ID,
		RoomID:      payload.RoomID,
		Source:      "webhook",
	})
	if err != nil {
		return fmt.Errorf("enqueue transcription: %w", err)
	}
	return nil
}

func (p *Processor) copyToS3(ctx context.Context, rec *models.Recording, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	key := storage.RecordingKey(rec.RoomID.String(), rec.ID.String(), contentType)
	counted := &countingReader{r: resp.Body}
	ownedURL, err := p.Uploader.UploadRecording(ctx, key, contentType, counted, resp.ContentLength)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.Recordings.SetOwnedStorage(ctx, rec.ID, models.StorageS3, key, ownedURL, counted.n); err != nil {
		return fmt.Errorf("update db: %w", err)
	}
	return nil
}

// transcribe runs the pipeline. Failures the pipeline already recorded as terminal
// are not retried; vendor and infrastructure failures are.
func (p *Processor) transcribe(ctx context.Context, payload queue.TranscriptionPayload) error {
	roomID := payload.RoomID
	_, err := p.Transcriber.Run(ctx, transcripts.Request{
		RecordingID: payload.RecordingID.String(),
		RoomID:      &roomID,
		AudioURL:    payload.AudioURL,
		Source:      payload.Source,
		Internal:    true,
	})
	if err == nil {
		return nil
	}
	if pe, ok := transcripts.AsPipelineError(err); ok {
		if pe.Status >= http.StatusInternalServerError && pe.Status != http.StatusServiceUnavailable {
			return err
		}
		return permanent(err)
	}
	if errors.Is(err, transcripts.ErrRecordingNotFound) || errors.Is(err, transcripts.ErrRoomNotFound) {
		return permanent(err)
	}
	return err
}

// Run dequeues and processes jobs until ctx is done.
func (p *Processor) Run(ctx context.Context) {
	p.Logger.Info("worker started")
	for {
		if ctx.Err() != nil {
			p.Logger.Info("worker stopping")
			return
		}

		job, err := p.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.Logger.Warn("dequeue error", zap.Error(err))
			p.pause(ctx)
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, job)
	}
}

func (p *Processor) handle(ctx context.Context, job *queue.Job) {
	log := p.Logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
	log.Debug("processing job")
	err := p.Process(ctx, job)
	switch {
	case err == nil:
		metrics.QueueJobs.WithLabelValues(string(job.Type), "ok").Inc()
	case errors.Is(err, errPermanent):
		log.Error("job dropped", zap.Error(err))
		metrics.QueueJobs.WithLabelValues(string(job.Type), "dropped").Inc()
	default:
		log.Error("job failed", zap.Error(err))
		dead, reErr := p.Queue.Retry(context.WithoutCancel(ctx), job)
		if reErr != nil {
			log.Error("retry enqueue failed", zap.Error(reErr))
		}
		result := "retry"
		if dead {
			result = "dead"
		}
		metrics.QueueJobs.WithLabelValues(string(job.Type), result).Inc()
		p.pause(ctx)
	}
}

func (p *Processor) pause(ctx context.Context) {
	t := time.NewTimer(p.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += int64(n)
	return n, err
}
