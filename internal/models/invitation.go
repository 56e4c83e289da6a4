package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationTTL is how long an invitation stays pending.
const InvitationTTL = 24 * time.Hour

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

// NotificationInApp is the only delivery channel used for invitations.
const NotificationInApp = "in_app"

// Invitation is one notification record per invited participant per room.
type Invitation struct {
	ID                 uuid.UUID        `json:"id"`
	RoomID             uuid.UUID        `json:"room_id"`
	InviteeUserID      uuid.UUID        `json:"invitee_user_id"`
	InviteeEmail       string           `json:"invitee_email,omitempty"`
	InviterUserID      *uuid.UUID       `json:"inviter_user_id,omitempty"`
	InviterName        string           `json:"inviter_name,omitempty"`
	CallType           CallType         `json:"call_type,omitempty"`
	CallTitle          string           `json:"call_title,omitempty"`
	InviteToken        string           `json:"invite_token"`
	JoinURL            string           `json:"join_url"`
	Status             InvitationStatus `json:"status"`
	NotificationSent   bool             `json:"notification_sent"`
	NotificationSentAt *time.Time       `json:"notification_sent_at,omitempty"`
	NotificationType   string           `json:"notification_type,omitempty"`
	ExpiresAt          time.Time        `json:"expires_at"`
	RespondedAt        *time.Time       `json:"responded_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Expired reports whether the invitation is past its expiry at now.
func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
