package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueJobs is the Redis list key for background jobs.
	QueueJobs = "worker:jobs"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// dequeueTimeout bounds BLPOP so the worker loop can observe cancellation.
	dequeueTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	// JobTypeRecordingMigrate copies a vendor-hosted recording into owned storage.
	JobTypeRecordingMigrate JobType = "recording_migrate"
	// JobTypeTranscription runs the transcription pipeline for a recording.
	JobTypeTranscription JobType = "transcription"
)

// RecordingMigratePayload is the payload for recording migration jobs.
type RecordingMigratePayload struct {
	RecordingID      uuid.UUID `json:"recording_id"`
	RoomID           uuid.UUID `json:"room_id"`
	DailyRecordingID string    `json:"daily_recording_id"`
	Transcribe       bool      `json:"transcribe"`
}

// TranscriptionPayload is the payload for transcription jobs.
type TranscriptionPayload struct {
	RecordingID uuid.UUID `json:"recording_id"`
	RoomID      uuid.UUID `json:"room_id"`
	AudioURL    string    `json:"audio_url,omitempty"`
	Source      string    `json:"source"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Lists is the subset of Redis list commands the queue needs. *redis.Client satisfies it.
type Lists interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client Lists
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client Lists, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueRecordingMigrate enqueues a recording migration job.
func (q *Queue) EnqueueRecordingMigrate(ctx context.Context, payload RecordingMigratePayload) error {
	job, err := q.push(ctx, JobTypeRecordingMigrate, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued recording migrate job", zap.String("job_id", job.ID), zap.String("recording_id", payload.RecordingID.String()))
	return nil
}

// EnqueueTranscription enqueues a transcription job.
func (q *Queue) EnqueueTranscription(ctx context.Context, payload TranscriptionPayload) error {
	job, err := q.push(ctx, JobTypeTranscription, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued transcription job", zap.String("job_id", job.ID), zap.String("recording_id", payload.RecordingID.String()))
	return nil
}

func (q *Queue) push(ctx context.Context, typ JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	return job, nil
}

// Dequeue blocks until a job is available, the poll timeout passes, or ctx is done.
// A nil job with a nil error means nothing was available.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, dequeueTimeout, QueueJobs).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
// It reports whether the job was dead-lettered.
func (q *Queue) Retry(ctx context.Context, job *Job) (bool, error) {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return false, err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return true, nil
	}
	if err := q.client.RPush(ctx, QueueJobs, raw).Err(); err != nil {
		return false, err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return false, nil
}
