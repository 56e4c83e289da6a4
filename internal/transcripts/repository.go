// Package transcripts runs the recording transcription pipeline and owns the transcript state machine.
package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
)

// Claim is the ownership of a processing transcript row.
type Claim struct {
	TranscriptID uuid.UUID
	Token        uuid.UUID
}

// Completion is the payload of a successful run.
type Completion struct {
	FullText  string
	Segments  []models.Segment
	Summary   string
	KeyPoints []string
	Model     string
}

// Repository persists video_call_transcripts.
type Repository struct {
	db database.DB
}

// NewRepository creates a transcripts repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

const transcriptColumns = `id, room_id, recording_id, job_id, status, provider, COALESCE(full_text, ''), segments,
	word_count, COALESCE(summary, ''), key_points, COALESCE(model, ''), COALESCE(error_code, ''),
	COALESCE(error_message, ''), claim_token, processing_started_at, completed_at, created_at, updated_at`

func scanTranscript(row pgx.Row) (*models.Transcript, error) {
	var t models.Transcript
	var segments, keyPoints []byte
	var words int32
	err := row.Scan(&t.ID, &t.RoomID, &t.RecordingID, &t.JobID, &t.Status, &t.Provider, &t.FullText, &segments,
		&words, &t.Summary, &keyPoints, &t.Model, &t.ErrorCode,
		&t.ErrorMessage, &t.ClaimToken, &t.ProcessingStartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.WordCount = int(words)
	t.Segments = []models.Segment{}
	t.KeyPoints = []string{}
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &t.Segments); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	}
	if len(keyPoints) > 0 {
		if err := json.Unmarshal(keyPoints, &t.KeyPoints); err != nil {
			return nil, fmt.Errorf("decode key points: %w", err)
		}
	}
	return &t, nil
}

func one(row pgx.Row) (*models.Transcript, error) {
	t, err := scanTranscript(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// Get returns a transcript by id, or nil.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Transcript, error) {
	return one(r.db.QueryRow(ctx, `SELECT `+transcriptColumns+` FROM video_call_transcripts WHERE id = $1`, id))
}

// GetByRecording returns the transcript of a recording, or nil.
func (r *Repository) GetByRecording(ctx context.Context, recordingID uuid.UUID) (*models.Transcript, error) {
	return one(r.db.QueryRow(ctx, `SELECT `+transcriptColumns+` FROM video_call_transcripts WHERE recording_id = $1`, recordingID))
}

// ListByRoom returns every transcript of a room, newest first.
func (r *Repository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.Transcript, error) {
	rows, err := r.db.Query(ctx, `SELECT `+transcriptColumns+` FROM video_call_transcripts
		WHERE room_id = $1 ORDER BY created_at DESC`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// Claim moves the recording's transcript to processing under a fresh token. It returns
// nil when the row is completed or another claim newer than staleBefore still holds it.
func (r *Repository) Claim(ctx context.Context, roomID, recordingID uuid.UUID, jobID *uuid.UUID, now, staleBefore time.Time) (*Claim, error) {
	const q = `INSERT INTO video_call_transcripts
		(room_id, recording_id, job_id, status, provider, claim_token, processing_started_at)
		VALUES ($1, $2, $3, 'processing', 'openai', $4, $5)
		ON CONFLICT (recording_id) DO UPDATE SET
			status = 'processing',
			job_id = COALESCE(EXCLUDED.job_id, video_call_transcripts.job_id),
			claim_token = EXCLUDED.claim_token,
			processing_started_at = EXCLUDED.processing_started_at,
			error_code = NULL,
			error_message = NULL,
			updated_at = NOW()
		WHERE video_call_transcripts.status <> 'completed'
			AND NOT (video_call_transcripts.status = 'processing'
				AND video_call_transcripts.processing_started_at > $6)
		RETURNING id`
	c := &Claim{Token: uuid.New()}
	err := r.db.QueryRow(ctx, q, roomID, recordingID, jobID, c.Token, now, staleBefore).Scan(&c.TranscriptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim transcript: %w", err)
	}
	return c, nil
}

// Complete finalizes a claimed row. It returns nil when the claim was lost.
func (r *Repository) Complete(ctx context.Context, c Claim, done Completion, at time.Time) (*models.Transcript, error) {
	segments, err := json.Marshal(nonNilSegments(done.Segments))
	if err != nil {
		return nil, err
	}
	keyPoints, err := json.Marshal(nonNilStrings(done.KeyPoints))
	if err != nil {
		return nil, err
	}
	q := `UPDATE video_call_transcripts SET
			status = 'completed', full_text = $3, segments = $4::jsonb, word_count = $5,
			summary = NULLIF($6, ''), key_points = $7::jsonb, model = $8, completed_at = $9,
			error_code = NULL, error_message = NULL, claim_token = NULL, updated_at = NOW()
		WHERE id = $1 AND claim_token = $2
		RETURNING ` + transcriptColumns
	return one(r.db.QueryRow(ctx, q, c.TranscriptID, c.Token, done.FullText, string(segments),
		WordCount(done.FullText), done.Summary, string(keyPoints), done.Model, at))
}

// Fail records a terminal failure on a claimed row. fullText may carry a placeholder.
func (r *Repository) Fail(ctx context.Context, c Claim, code, message, fullText string) (*models.Transcript, error) {
	q := `UPDATE video_call_transcripts SET
			status = 'failed', error_code = $3, error_message = $4,
			full_text = COALESCE(NULLIF($5, ''), full_text), claim_token = NULL, updated_at = NOW()
		WHERE id = $1 AND claim_token = $2
		RETURNING ` + transcriptColumns
	return one(r.db.QueryRow(ctx, q, c.TranscriptID, c.Token, code, message, fullText))
}

// ReleaseStale fails processing rows whose claim started before cutoff.
func (r *Repository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `UPDATE video_call_transcripts SET
			status = 'failed', error_code = $2, error_message = 'processing abandoned before completion',
			claim_token = NULL, updated_at = NOW()
		WHERE status = 'processing' AND processing_started_at < $1`
	tag, err := r.db.Exec(ctx, q, cutoff, CodeUnexpected)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nonNilSegments(s []models.Segment) []models.Segment {
	if s == nil {
		return []models.Segment{}
	}
	return s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
