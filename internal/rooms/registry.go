package rooms

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
)

// Table is the rooms table name.
const Table = "video_call_rooms"

// OptionalColumns are written only when the schema carries them. call_type is not among them.
var OptionalColumns = []string{
	"call_mode", "title", "description", "host_name", "participant_name", "participant_email", "agency_id",
}

// NewRoom is a provisioned vendor room ready to be recorded.
type NewRoom struct {
	DailyRoomName       string
	DailyRoomURL        string
	HostToken           string
	HostUserID          uuid.UUID
	HostName            string
	ParticipantUserID   uuid.UUID
	ParticipantName     string
	ParticipantEmail    string
	JobID               *uuid.UUID
	ApplicationID       *uuid.UUID
	InterviewID         *uuid.UUID
	AgencyID            *uuid.UUID
	CallType            models.CallType
	CallMode            models.CallMode
	Title               string
	Description         string
	EnableRecording     bool
	EnableTranscription bool
}

// Registry writes room rows, degrading to the base column set when the schema lags behind.
type Registry struct {
	ins    database.Inserter
	capab  *database.Capability
	logger *zap.Logger
}

// NewRegistry creates a registry over ins.
func NewRegistry(ins database.Inserter, capab *database.Capability, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{ins: ins, capab: capab, logger: logger}
}

// Save inserts the room and returns its id and creation time.
func (r *Registry) Save(ctx context.Context, nr NewRoom) (uuid.UUID, time.Time, error) {
	base, full := roomRows(nr)
	return database.InsertWithFallback(ctx, r.ins, r.capab, full, base, r.logger)
}

func roomRows(nr NewRoom) (base, full database.Row) {
	base.Set("daily_room_name", nr.DailyRoomName).
		Set("daily_room_url", nr.DailyRoomURL).
		Set("daily_room_token", nr.HostToken).
		Set("host_user_id", nr.HostUserID).
		Set("participant_user_id", nr.ParticipantUserID).
		Set("job_id", nr.JobID).
		Set("application_id", nr.ApplicationID).
		Set("interview_id", nr.InterviewID).
		Set("status", string(models.RoomStatusCreated)).
		Set("enable_recording", nr.EnableRecording).
		Set("enable_transcription", nr.EnableTranscription).
		Set("call_type", string(nr.CallType))

	full = base.Clone()
	full.Set("host_name", nr.HostName).
		Set("participant_name", nr.ParticipantName).
		Set("participant_email", nullable(nr.ParticipantEmail)).
		Set("agency_id", nr.AgencyID).
		Set("call_mode", string(nr.CallMode)).
		Set("title", nr.Title).
		Set("description", nr.Description)
	return base, full
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
