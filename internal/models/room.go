package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusCreated RoomStatus = "created"
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusActive  RoomStatus = "active"
	RoomStatusEnded   RoomStatus = "ended"
)

var roomStatusRank = map[RoomStatus]int{
	RoomStatusCreated: 0,
	RoomStatusWaiting: 1,
	RoomStatusActive:  2,
	RoomStatusEnded:   3,
}

// Valid reports whether s is a known status.
func (s RoomStatus) Valid() bool {
	_, ok := roomStatusRank[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle monotonic.
func (s RoomStatus) CanAdvanceTo(next RoomStatus) bool {
	from, ok1 := roomStatusRank[s]
	to, ok2 := roomStatusRank[next]
	return ok1 && ok2 && to > from
}

// Predecessors lists statuses that may advance to s.
func (s RoomStatus) Predecessors() []RoomStatus {
	var out []RoomStatus
	for st, rank := range roomStatusRank {
		if rank < roomStatusRank[s] {
			out = append(out, st)
		}
	}
	return out
}

// Room is one video session container.
type Room struct {
	ID                  uuid.UUID  `json:"id"`
	DailyRoomName       string     `json:"daily_room_name"`
	DailyRoomURL        string     `json:"daily_room_url"`
	HostToken           string     `json:"-"`
	HostUserID          uuid.UUID  `json:"host_user_id"`
	HostName            string     `json:"host_name,omitempty"`
	HostAvatar          string     `json:"host_avatar,omitempty"`
	ParticipantUserID   uuid.UUID  `json:"participant_user_id"`
	ParticipantName     string     `json:"participant_name,omitempty"`
	ParticipantEmail    string     `json:"participant_email,omitempty"`
	ParticipantAvatar   string     `json:"participant_avatar,omitempty"`
	JobID               *uuid.UUID `json:"job_id,omitempty"`
	ApplicationID       *uuid.UUID `json:"application_id,omitempty"`
	InterviewID         *uuid.UUID `json:"interview_id,omitempty"`
	AgencyID            *uuid.UUID `json:"agency_id,omitempty"`
	CallType            CallType   `json:"call_type"`
	CallTypeLabel       string     `json:"call_type_label"`
	CallMode            CallMode   `json:"call_mode"`
	Title               string     `json:"title,omitempty"`
	Description         string     `json:"description,omitempty"`
	Status              RoomStatus `json:"status"`
	EnableRecording     bool       `json:"enable_recording"`
	EnableTranscription bool       `json:"enable_transcription"`
	Rating              *int       `json:"rating,omitempty"`
	Notes               string     `json:"notes,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	DurationSeconds     *int       `json:"duration_seconds,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsAgencyHosted reports whether host_user_id holds the agency id rather than a recruiter user id.
// Some external systems create rooms that way; any recruiter of that agency acts as host.
func (r *Room) IsAgencyHosted() bool {
	return r.AgencyID != nil && *r.AgencyID == r.HostUserID
}

// IsParty reports whether userID is the literal host or participant.
func (r *Room) IsParty(userID uuid.UUID) bool {
	return r.HostUserID == userID || r.ParticipantUserID == userID
}
