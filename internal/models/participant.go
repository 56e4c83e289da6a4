package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant roles.
const (
	ParticipantRoleHost      = "host"
	ParticipantRoleCandidate = "candidate"
	ParticipantRoleGuest     = "participant"
)

// Participant statuses.
const (
	ParticipantInvited = "invited"
	ParticipantJoined  = "joined"
	ParticipantLeft    = "left"
)

// Participant is a per-(room, user) ledger entry.
type Participant struct {
	ID              uuid.UUID  `json:"id"`
	RoomID          uuid.UUID  `json:"room_id"`
	UserID          uuid.UUID  `json:"user_id"`
	Email           string     `json:"email,omitempty"`
	Name            string     `json:"name"`
	Role            string     `json:"role"`
	Status          string     `json:"status"`
	InvitedAt       *time.Time `json:"invited_at,omitempty"`
	JoinedAt        *time.Time `json:"joined_at,omitempty"`
	LeftAt          *time.Time `json:"left_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	JoinURL         string     `json:"join_url,omitempty"`
	DailyToken      string     `json:"-"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
