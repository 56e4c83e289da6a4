// Package participants keeps the per-room ledger of who was invited, joined and left.
package participants

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
)

// Repository persists video_call_participants.
type Repository struct {
	db database.DB
}

// NewRepository creates a participants repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

// Upsert writes an invited entry, keyed on (room_id, user_id). Re-inviting refreshes
// name, email, join_url and token without resetting joined/left history.
func (r *Repository) Upsert(ctx context.Context, p *models.Participant) error {
	const q = `INSERT INTO video_call_participants
		(room_id, user_id, email, name, role, status, invited_at, join_url, daily_token)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			email = COALESCE(EXCLUDED.email, video_call_participants.email),
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			join_url = COALESCE(EXCLUDED.join_url, video_call_participants.join_url),
			daily_token = COALESCE(EXCLUDED.daily_token, video_call_participants.daily_token),
			updated_at = NOW()
		RETURNING id, updated_at`
	if p.Status == "" {
		p.Status = models.ParticipantInvited
	}
	if p.InvitedAt == nil {
		now := time.Now()
		p.InvitedAt = &now
	}
	err := r.db.QueryRow(ctx, q, p.RoomID, p.UserID, p.Email, p.Name, p.Role, p.Status,
		p.InvitedAt, p.JoinURL, p.DailyToken).Scan(&p.ID, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// MarkJoined records a join, creating the entry when the user was never invited.
func (r *Repository) MarkJoined(ctx context.Context, db database.DB, roomID, userID uuid.UUID, name, role string, at time.Time) error {
	if db == nil {
		db = r.db
	}
	const q = `INSERT INTO video_call_participants (room_id, user_id, name, role, status, joined_at)
		VALUES ($1, $2, $3, $4, 'joined', $5)
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			status = 'joined',
			joined_at = COALESCE(video_call_participants.joined_at, EXCLUDED.joined_at),
			left_at = NULL,
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE video_call_participants.name END,
			updated_at = NOW()`
	if role == "" {
		role = models.ParticipantRoleGuest
	}
	_, err := db.Exec(ctx, q, roomID, userID, name, role, at)
	return err
}

// MarkLeft records a departure and the time spent since joining.
func (r *Repository) MarkLeft(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error {
	const q = `UPDATE video_call_participants
		SET status = 'left',
			left_at = $3,
			duration_seconds = CASE WHEN joined_at IS NOT NULL
				THEN GREATEST(0, EXTRACT(EPOCH FROM ($3 - joined_at))::int) ELSE duration_seconds END,
			updated_at = NOW()
		WHERE room_id = $1 AND user_id = $2`
	_, err := r.db.Exec(ctx, q, roomID, userID, at)
	return err
}

// ListByRoom returns the ledger of a room, host first.
func (r *Repository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	const q = `SELECT id, room_id, user_id, COALESCE(email, ''), COALESCE(name, ''), role, status,
		invited_at, joined_at, left_at, duration_seconds, COALESCE(join_url, ''), updated_at
		FROM video_call_participants WHERE room_id = $1
		ORDER BY CASE role WHEN 'host' THEN 0 ELSE 1 END, invited_at NULLS LAST`
	rows, err := r.db.Query(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.Email, &p.Name, &p.Role, &p.Status,
			&p.InvitedAt, &p.JoinedAt, &p.LeftAt, &p.DurationSeconds, &p.JoinURL, &p.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
