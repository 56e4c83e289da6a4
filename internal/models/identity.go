package models

import "github.com/google/uuid"

// Profile is a display identity resolved from recruiter, profile or candidate tables.
type Profile struct {
	UserID    uuid.UUID  `json:"user_id"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	AgencyID  *uuid.UUID `json:"agency_id,omitempty"`
}
