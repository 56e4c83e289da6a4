package models

import (
	"time"

	"github.com/google/uuid"
)

// Transcript statuses.
const (
	TranscriptProcessing = "processing"
	TranscriptCompleted  = "completed"
	TranscriptFailed     = "failed"
)

// NoAudioText is stored as full_text when speech-to-text returned nothing.
const NoAudioText = "[No audio detected]"

// Segment is a time-aligned piece of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the derived text record for one recording.
type Transcript struct {
	ID                  uuid.UUID  `json:"id"`
	RoomID              uuid.UUID  `json:"room_id"`
	RecordingID         uuid.UUID  `json:"recording_id"`
	JobID               *uuid.UUID `json:"job_id,omitempty"`
	Status              string     `json:"status"`
	Provider            string     `json:"provider"`
	FullText            string     `json:"full_text,omitempty"`
	Segments            []Segment  `json:"segments"`
	WordCount           int        `json:"word_count"`
	Summary             string     `json:"summary,omitempty"`
	KeyPoints           []string   `json:"key_points"`
	Model               string     `json:"model,omitempty"`
	ErrorCode           string     `json:"error_code,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	ClaimToken          *uuid.UUID `json:"-"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
