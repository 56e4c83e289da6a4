package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
)

// ListLimit caps room listings.
const ListLimit = 50

// ListFilter selects rooms visible to a user.
type ListFilter struct {
	UserID   uuid.UUID
	AgencyID *uuid.UUID
	// Status is "", "active" (created, waiting or active) or "ended".
	Status string
}

// Changes is a partial room update.
type Changes struct {
	Rating *int
	Notes  *string
}

// Repository persists video_call_rooms.
type Repository struct {
	db database.DB
}

// NewRepository creates a rooms repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

const roomColumns = `id, daily_room_name, daily_room_url, COALESCE(daily_room_token, ''), host_user_id, COALESCE(host_name, ''),
	participant_user_id, COALESCE(participant_name, ''), COALESCE(participant_email, ''),
	job_id, application_id, interview_id, agency_id, call_type, call_mode, COALESCE(title, ''), COALESCE(description, ''),
	status, enable_recording, enable_transcription, rating, COALESCE(notes, ''),
	started_at, ended_at, duration_seconds, created_at, updated_at`

func scanRoom(row pgx.Row) (*models.Room, error) {
	var rm models.Room
	var callType, callMode, status string
	var rating *int16
	var duration *int32
	err := row.Scan(&rm.ID, &rm.DailyRoomName, &rm.DailyRoomURL, &rm.HostToken, &rm.HostUserID, &rm.HostName,
		&rm.ParticipantUserID, &rm.ParticipantName, &rm.ParticipantEmail,
		&rm.JobID, &rm.ApplicationID, &rm.InterviewID, &rm.AgencyID, &callType, &callMode, &rm.Title, &rm.Description,
		&status, &rm.EnableRecording, &rm.EnableTranscription, &rating, &rm.Notes,
		&rm.StartedAt, &rm.EndedAt, &duration, &rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rm.CallType = models.CallType(callType)
	rm.CallTypeLabel = rm.CallType.Label()
	rm.CallMode = models.CallMode(callMode)
	rm.Status = models.RoomStatus(status)
	if rating != nil {
		v := int(*rating)
		rm.Rating = &v
	}
	if duration != nil {
		v := int(*duration)
		rm.DurationSeconds = &v
	}
	return &rm, nil
}

// Get returns a room by id, or nil.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	rm, err := scanRoom(r.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM video_call_rooms WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rm, err
}

// GetByName returns a room by its vendor room name, or nil.
func (r *Repository) GetByName(ctx context.Context, name string) (*models.Room, error) {
	rm, err := scanRoom(r.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM video_call_rooms WHERE daily_room_name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rm, err
}

// List returns rooms where the user is host or participant, or that belong to the user's agency.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*models.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM video_call_rooms
		WHERE (host_user_id = $1 OR participant_user_id = $1 OR ($2::uuid IS NOT NULL AND agency_id = $2))`
	args := []any{f.UserID, f.AgencyID}
	switch f.Status {
	case "active":
		q += ` AND status IN ('created', 'waiting', 'active')`
	case "ended":
		q += ` AND status = 'ended'`
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, ListLimit)

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rm)
	}
	return list, rows.Err()
}

// Advance moves a room forward to next. It returns false when the room was already at or past next.
// db may be a transaction; nil uses the pool.
func (r *Repository) Advance(ctx context.Context, db database.DB, id uuid.UUID, next models.RoomStatus, at time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	from := make([]string, 0, 3)
	for _, s := range next.Predecessors() {
		from = append(from, string(s))
	}
	if len(from) == 0 {
		return false, nil
	}
	const q = `UPDATE video_call_rooms SET status = $2,
			started_at = CASE WHEN $2 = 'active' THEN COALESCE(started_at, $4) ELSE started_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`
	tag, err := db.Exec(ctx, q, id, string(next), from, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// End marks a room ended. duration overrides the started_at based computation when set.
// It returns false when the room was already ended.
func (r *Repository) End(ctx context.Context, id uuid.UUID, at time.Time, duration *int) (bool, error) {
	const q = `UPDATE video_call_rooms SET status = 'ended', ended_at = $2,
			duration_seconds = COALESCE($3::int,
				CASE WHEN started_at IS NOT NULL THEN GREATEST(0, EXTRACT(EPOCH FROM ($2 - started_at))::int) END),
			updated_at = NOW()
		WHERE id = $1 AND status <> 'ended'`
	tag, err := r.db.Exec(ctx, q, id, at, duration)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Update applies rating and notes changes.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, ch Changes) error {
	const q = `UPDATE video_call_rooms SET
			rating = COALESCE($2::smallint, rating),
			notes = COALESCE($3, notes),
			updated_at = NOW()
		WHERE id = $1`
	_, err := r.db.Exec(ctx, q, id, ch.Rating, ch.Notes)
	return err
}
