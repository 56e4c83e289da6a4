// Package recordings tracks call recordings from the vendor webhook through owned storage.
package recordings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
)

// Ready is what a recording-ready delivery tells us.
type Ready struct {
	RoomID           uuid.UUID
	DailyRecordingID string
	StoragePath      string
	DurationSeconds  int
}

// Repository persists video_call_recordings.
type Repository struct {
	db database.DB
}

// NewRepository creates a recordings repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

const recordingColumns = `id, room_id, daily_recording_id, storage_provider, COALESCE(storage_path, ''),
	COALESCE(recording_url, ''), COALESCE(download_url, ''), duration_seconds, file_size_bytes, status,
	COALESCE(error_message, ''), created_at, updated_at`

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.RoomID, &rec.DailyRecordingID, &rec.StorageProvider, &rec.StoragePath,
		&rec.RecordingURL, &rec.DownloadURL, &rec.DurationSeconds, &rec.FileSizeBytes, &rec.Status,
		&rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]*models.Recording, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// Get returns a recording by id, or nil.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	return scanRecording(r.db.QueryRow(ctx, `SELECT `+recordingColumns+` FROM video_call_recordings WHERE id = $1`, id))
}

// GetByDailyID returns a recording by its vendor id, or nil.
func (r *Repository) GetByDailyID(ctx context.Context, dailyRecordingID string) (*models.Recording, error) {
	return scanRecording(r.db.QueryRow(ctx,
		`SELECT `+recordingColumns+` FROM video_call_recordings WHERE daily_recording_id = $1`, dailyRecordingID))
}

// LatestForRoom returns the newest usable recording of a room, or nil.
func (r *Repository) LatestForRoom(ctx context.Context, roomID uuid.UUID) (*models.Recording, error) {
	return scanRecording(r.db.QueryRow(ctx, `SELECT `+recordingColumns+` FROM video_call_recordings
		WHERE room_id = $1 AND status NOT IN ('failed', 'deleted')
		ORDER BY created_at DESC LIMIT 1`, roomID))
}

// ListByRoom returns all recordings of a room, newest first.
func (r *Repository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.Recording, error) {
	return r.list(ctx, `SELECT `+recordingColumns+` FROM video_call_recordings
		WHERE room_id = $1 AND status <> 'deleted' ORDER BY created_at DESC`, roomID)
}

// Started records a recording that the vendor began capturing. Known ids are left untouched.
func (r *Repository) Started(ctx context.Context, roomID uuid.UUID, dailyRecordingID string) error {
	const q = `INSERT INTO video_call_recordings (room_id, daily_recording_id, status)
		VALUES ($1, $2, 'recording')
		ON CONFLICT (daily_recording_id) DO NOTHING`
	_, err := r.db.Exec(ctx, q, roomID, dailyRecordingID)
	return err
}

// UpsertReady claims a finished recording for processing. It returns nil when the
// recording is already processing or ready, so duplicate deliveries do nothing.
func (r *Repository) UpsertReady(ctx context.Context, in Ready) (*models.Recording, error) {
	const q = `INSERT INTO video_call_recordings
			(room_id, daily_recording_id, storage_provider, storage_path, duration_seconds, status)
		VALUES ($1, $2, 'daily', NULLIF($3, ''), $4, 'processing')
		ON CONFLICT (daily_recording_id) DO UPDATE SET
			storage_path = COALESCE(EXCLUDED.storage_path, video_call_recordings.storage_path),
			duration_seconds = GREATEST(EXCLUDED.duration_seconds, video_call_recordings.duration_seconds),
			status = 'processing',
			error_message = NULL,
			updated_at = NOW()
		WHERE video_call_recordings.status NOT IN ('processing', 'ready')
		RETURNING ` + recordingColumns
	return scanRecording(r.db.QueryRow(ctx, q, in.RoomID, in.DailyRecordingID, in.StoragePath, in.DurationSeconds))
}

// SetVendorLink stores a vendor download link and marks the recording ready.
func (r *Repository) SetVendorLink(ctx context.Context, id uuid.UUID, url string) error {
	const q = `UPDATE video_call_recordings
		SET recording_url = $2, download_url = $2, status = 'ready', updated_at = NOW()
		WHERE id = $1 AND storage_provider = 'daily'`
	_, err := r.db.Exec(ctx, q, id, url)
	return err
}

// SetOwnedStorage records the owned-storage copy of a recording.
func (r *Repository) SetOwnedStorage(ctx context.Context, id uuid.UUID, provider, path, url string, size int64) error {
	const q = `UPDATE video_call_recordings
		SET storage_provider = $2, storage_path = $3, recording_url = $4, download_url = $4,
			file_size_bytes = $5, status = 'ready', error_message = NULL, updated_at = NOW()
		WHERE id = $1`
	_, err := r.db.Exec(ctx, q, id, provider, path, url, size)
	return err
}

// MarkReady marks a recording ready without changing where it lives.
func (r *Repository) MarkReady(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE video_call_recordings SET status = 'ready', updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id)
	return err
}

// MarkFailed records a vendor-side recording failure.
func (r *Repository) MarkFailed(ctx context.Context, dailyRecordingID, message string) (bool, error) {
	const q = `UPDATE video_call_recordings
		SET status = 'failed', error_message = NULLIF($2, ''), updated_at = NOW()
		WHERE daily_recording_id = $1 AND status <> 'deleted'`
	tag, err := r.db.Exec(ctx, q, dailyRecordingID, message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListForRetention returns S3-held recordings created before cutoff.
func (r *Repository) ListForRetention(ctx context.Context, cutoff time.Time, limit int) ([]*models.Recording, error) {
	return r.list(ctx, `SELECT `+recordingColumns+` FROM video_call_recordings
		WHERE storage_provider = 's3' AND status = 'ready' AND created_at < $1
		ORDER BY created_at LIMIT $2`, cutoff, limit)
}

// MarkDeleted clears the media location of a recording whose copy was removed.
func (r *Repository) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE video_call_recordings
		SET status = 'deleted', recording_url = NULL, download_url = NULL, updated_at = NOW()
		WHERE id = $1`
	_, err := r.db.Exec(ctx, q, id)
	return err
}
