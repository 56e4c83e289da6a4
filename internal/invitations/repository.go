// Package invitations tracks who was invited to which room and how they answered.
package invitations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
)

// Table is the invitations table name.
const Table = "video_call_invitations"

// OptionalColumns are written only when the schema carries them.
var OptionalColumns = []string{"inviter_user_id", "inviter_name", "call_type", "call_title"}

// NewInvitation describes an invitation to write at room creation.
type NewInvitation struct {
	RoomID        uuid.UUID
	InviteeUserID uuid.UUID
	InviteeEmail  string
	InviterUserID uuid.UUID
	InviterName   string
	CallType      models.CallType
	CallTitle     string
	RoomURL       string
	GuestToken    string
}

// Pending is an open invitation with the room context a client needs to render it.
type Pending struct {
	models.Invitation
	RoomName   string            `json:"room_name"`
	RoomURL    string            `json:"room_url"`
	RoomStatus models.RoomStatus `json:"room_status"`
	HostUserID uuid.UUID         `json:"host_user_id"`
	HostName   string            `json:"host_name,omitempty"`
	Title      string            `json:"title,omitempty"`
}

// Repository persists video_call_invitations.
type Repository struct {
	db     database.DB
	ins    database.Inserter
	capab  *database.Capability
	now    func() time.Time
	logger *zap.Logger
}

// NewRepository creates an invitations repository. New rows go through ins; capab decides
// whether optional columns are written.
func NewRepository(db database.DB, ins database.Inserter, capab *database.Capability, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ins == nil {
		ins = database.PoolInserter{DB: db}
	}
	return &Repository{db: db, ins: ins, capab: capab, now: time.Now, logger: logger}
}

// NewInviteToken returns an opaque "inv_<unixms>_<random>" token.
func NewInviteToken(now time.Time) string {
	return fmt.Sprintf("inv_%d_%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}

// JoinURL appends the guest meeting token to the room URL.
func JoinURL(roomURL, guestToken string) string {
	if guestToken == "" {
		return roomURL
	}
	return roomURL + "?t=" + guestToken
}

// Create writes a pending in-app invitation that expires exactly InvitationTTL after creation.
func (r *Repository) Create(ctx context.Context, in NewInvitation) (*models.Invitation, error) {
	now := r.now()
	inv := &models.Invitation{
		RoomID:             in.RoomID,
		InviteeUserID:      in.InviteeUserID,
		InviteeEmail:       in.InviteeEmail,
		InviteToken:        NewInviteToken(now),
		JoinURL:            JoinURL(in.RoomURL, in.GuestToken),
		Status:             models.InvitationPending,
		NotificationSent:   true,
		NotificationSentAt: &now,
		NotificationType:   models.NotificationInApp,
		ExpiresAt:          now.Add(models.InvitationTTL),
	}

	var base database.Row
	base.Set("room_id", inv.RoomID).
		Set("invitee_user_id", inv.InviteeUserID).
		Set("invitee_email", nullable(inv.InviteeEmail)).
		Set("invite_token", inv.InviteToken).
		Set("join_url", inv.JoinURL).
		Set("status", string(inv.Status)).
		Set("notification_sent", inv.NotificationSent).
		Set("notification_sent_at", now).
		Set("notification_type", inv.NotificationType).
		Set("expires_at", inv.ExpiresAt)
	full := base.Clone()
	full.Set("inviter_user_id", in.InviterUserID).
		Set("inviter_name", in.InviterName).
		Set("call_type", string(in.CallType)).
		Set("call_title", in.CallTitle)

	id, createdAt, err := database.InsertWithFallback(ctx, r.ins, r.capab, full, base, r.logger)
	if err != nil {
		return nil, err
	}
	inv.ID = id
	inv.CreatedAt = createdAt
	if r.capab.Full() {
		inviter := in.InviterUserID
		inv.InviterUserID = &inviter
		inv.InviterName = in.InviterName
		inv.CallType = in.CallType
		inv.CallTitle = in.CallTitle
	}
	return inv, nil
}

const selectColumns = `i.id, i.room_id, i.invitee_user_id, COALESCE(i.invitee_email, ''), i.invite_token, i.join_url,
	i.status, i.notification_sent, i.notification_sent_at, COALESCE(i.notification_type, ''), i.expires_at,
	i.responded_at, i.created_at`

func scanInvitation(row pgx.Row, extra ...any) (*models.Invitation, error) {
	var inv models.Invitation
	var status string
	dest := append([]any{&inv.ID, &inv.RoomID, &inv.InviteeUserID, &inv.InviteeEmail, &inv.InviteToken, &inv.JoinURL,
		&status, &inv.NotificationSent, &inv.NotificationSentAt, &inv.NotificationType, &inv.ExpiresAt,
		&inv.RespondedAt, &inv.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	inv.Status = models.InvitationStatus(status)
	return &inv, nil
}

// Get returns an invitation by id, or nil.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Invitation, error) {
	q := `SELECT ` + selectColumns + ` FROM video_call_invitations i WHERE i.id = $1`
	inv, err := scanInvitation(r.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

// ListPending returns the user's unexpired pending invitations to rooms that have not ended, newest first.
func (r *Repository) ListPending(ctx context.Context, userID uuid.UUID) ([]Pending, error) {
	q := `SELECT ` + selectColumns + `, rm.daily_room_name, rm.daily_room_url, rm.status, rm.host_user_id,
		COALESCE(rm.host_name, ''), COALESCE(rm.title, '')
		FROM video_call_invitations i
		JOIN video_call_rooms rm ON rm.id = i.room_id
		WHERE i.invitee_user_id = $1 AND i.status = 'pending' AND i.expires_at > NOW() AND rm.status <> 'ended'
		ORDER BY i.created_at DESC
		LIMIT 50`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Pending
	for rows.Next() {
		var p Pending
		var roomStatus string
		inv, err := scanInvitation(rows, &p.RoomName, &p.RoomURL, &roomStatus, &p.HostUserID, &p.HostName, &p.Title)
		if err != nil {
			return nil, err
		}
		p.Invitation = *inv
		p.RoomStatus = models.RoomStatus(roomStatus)
		list = append(list, p)
	}
	return list, rows.Err()
}

// Respond moves a pending invitation to status. It returns false when the invitation was no longer pending.
func (r *Repository) Respond(ctx context.Context, id uuid.UUID, status models.InvitationStatus, at time.Time) (bool, error) {
	const q = `UPDATE video_call_invitations SET status = $2, responded_at = $3
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, q, id, string(status), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AcceptForRoom marks the user's pending invitation to roomID accepted. db may be a transaction.
func (r *Repository) AcceptForRoom(ctx context.Context, db database.DB, roomID, userID uuid.UUID, at time.Time) error {
	if db == nil {
		db = r.db
	}
	const q = `UPDATE video_call_invitations SET status = 'accepted', responded_at = $3
		WHERE room_id = $1 AND invitee_user_id = $2 AND status = 'pending'`
	_, err := db.Exec(ctx, q, roomID, userID, at)
	return err
}

// HasInvitation reports whether userID holds a non-cancelled invitation to roomID.
func (r *Repository) HasInvitation(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM video_call_invitations
		WHERE room_id = $1 AND invitee_user_id = $2 AND status IN ('pending', 'accepted'))`
	var ok bool
	err := r.db.QueryRow(ctx, q, roomID, userID).Scan(&ok)
	return ok, err
}

// ExpireStale marks every pending invitation past expires_at as expired.
func (r *Repository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE video_call_invitations SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1`
	tag, err := r.db.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelForRoom cancels the pending invitations of an ended room.
func (r *Repository) CancelForRoom(ctx context.Context, roomID uuid.UUID) (int64, error) {
	const q = `UPDATE video_call_invitations SET status = 'cancelled' WHERE room_id = $1 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, q, roomID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
