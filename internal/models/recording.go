package models

import (
	"time"

	"github.com/google/uuid"
)

// Recording statuses.
const (
	RecordingStatusRecording  = "recording"
	RecordingStatusProcessing = "processing"
	RecordingStatusReady      = "ready"
	RecordingStatusFailed     = "failed"
	RecordingStatusDeleted    = "deleted"
)

// Storage providers. "supabase" is the legacy owned store; new copies go to "s3".
const (
	StorageDaily    = "daily"
	StorageS3       = "s3"
	StorageSupabase = "supabase"
)

// Recording is one captured media artifact of a room.
type Recording struct {
	ID               uuid.UUID `json:"id"`
	RoomID           uuid.UUID `json:"room_id"`
	DailyRecordingID string    `json:"daily_recording_id"`
	StorageProvider  string    `json:"storage_provider"`
	StoragePath      string    `json:"storage_path,omitempty"`
	RecordingURL     string    `json:"recording_url,omitempty"`
	DownloadURL      string    `json:"download_url,omitempty"`
	DurationSeconds  int       `json:"duration_seconds"`
	FileSizeBytes    int64     `json:"file_size_bytes"`
	Status           string    `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// InOwnedStorage reports whether a copy of the media lives outside the vendor.
func (r *Recording) InOwnedStorage() bool {
	return r.StorageProvider == StorageS3 || r.StorageProvider == StorageSupabase
}
