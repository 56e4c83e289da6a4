// Package rooms provisions vendor rooms and manages their lifecycle.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/invitations"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
	"github.com/bpoc/video-calls/pkg/metrics"
)

// Events pushed to users.
const (
	EventIncomingCall = "incoming_call"
	EventRoomEnded    = "room_ended"
)

var (
	ErrNotFound  = errors.New("room not found")
	ErrForbidden = errors.New("not authorized for this room")
	ErrEnded     = errors.New("this call has ended")
	ErrRoomGone  = errors.New("video room no longer exists")
)

// ValidationError is a rejected request.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Provider is the video vendor.
type Provider interface {
	CreateRoom(ctx context.Context, spec daily.RoomSpec) (*daily.Room, error)
	CreateMeetingToken(ctx context.Context, spec daily.TokenSpec) (string, error)
	GetRoom(ctx context.Context, name string) (*daily.Room, error)
	DeleteRoom(ctx context.Context, name string) error
}

// RoomSaver records provisioned rooms.
type RoomSaver interface {
	Save(ctx context.Context, nr NewRoom) (uuid.UUID, time.Time, error)
}

// Store reads and updates room rows.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Room, error)
	List(ctx context.Context, f ListFilter) ([]*models.Room, error)
	Advance(ctx context.Context, db database.DB, id uuid.UUID, next models.RoomStatus, at time.Time) (bool, error)
	End(ctx context.Context, id uuid.UUID, at time.Time, duration *int) (bool, error)
	Update(ctx context.Context, id uuid.UUID, ch Changes) error
}

// InvitationStore is the invitation side of the room lifecycle.
type InvitationStore interface {
	Create(ctx context.Context, in invitations.NewInvitation) (*models.Invitation, error)
	AcceptForRoom(ctx context.Context, db database.DB, roomID, userID uuid.UUID, at time.Time) error
	HasInvitation(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	CancelForRoom(ctx context.Context, roomID uuid.UUID) (int64, error)
}

// Ledger is the participant ledger.
type Ledger interface {
	Upsert(ctx context.Context, p *models.Participant) error
	MarkJoined(ctx context.Context, db database.DB, roomID, userID uuid.UUID, name, role string, at time.Time) error
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)
}

// Identities resolves display names and agency membership.
type Identities interface {
	Host(ctx context.Context, userID uuid.UUID) models.Profile
	Participant(ctx context.Context, userID uuid.UUID, name, email string) models.Profile
	AgencyOf(ctx context.Context, userID uuid.UUID) *uuid.UUID
	IsAgencyRecruiter(ctx context.Context, agencyID, userID uuid.UUID) bool
	Profiles(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]models.Profile
}

// Notifier pushes in-app events to a user.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data any)
}

// Options are vendor room limits.
type Options struct {
	RoomTTL         time.Duration
	MaxParticipants int
}

// Deps wires the service.
type Deps struct {
	Provider    Provider
	Registry    RoomSaver
	Store       Store
	Invitations InvitationStore
	Ledger      Ledger
	Identities  Identities
	Tx          database.TxRunner
	Notifier    Notifier
	Logger      *zap.Logger
}

// Service implements room creation, listing, join and lifecycle changes.
type Service struct {
	Deps
	opts Options
	now  func() time.Time
}

// NewService creates a room service.
func NewService(d Deps, opts Options) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if opts.RoomTTL <= 0 {
		opts.RoomTTL = 3 * time.Hour
	}
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = 10
	}
	return &Service{Deps: d, opts: opts, now: time.Now}
}

// CreateRequest is the body for POST /video/rooms.
type CreateRequest struct {
	ParticipantUserID   string `json:"participantUserId"`
	ParticipantName     string `json:"participantName"`
	ParticipantEmail    string `json:"participantEmail"`
	JobID               string `json:"jobId"`
	ApplicationID       string `json:"applicationId"`
	InterviewID         string `json:"interviewId"`
	CallType            string `json:"callType"`
	CallMode            string `json:"callMode"`
	Title               string `json:"title"`
	Description         string `json:"description"`
	EnableRecording     *bool  `json:"enableRecording"`
	EnableTranscription *bool  `json:"enableTranscription"`
	JobTitle            string `json:"jobTitle"`
}

// Bookkeeping reports which database side effects of room creation landed.
type Bookkeeping struct {
	Saved               bool    `json:"saved"`
	InvitationCreated   bool    `json:"invitationCreated"`
	ParticipantsWritten int     `json:"-"`
	Error               *string `json:"error"`
}

// Created is the outcome of a room creation.
type Created struct {
	RoomID           *uuid.UUID
	Name             string
	URL              string
	HostToken        string
	ParticipantToken string
	InviteToken      string
	CallType         models.CallType
	CallMode         models.CallMode
	Title            string
	DB               Bookkeeping
}

type validated struct {
	participantID uuid.UUID
	jobID         *uuid.UUID
	applicationID *uuid.UUID
	interviewID   *uuid.UUID
	callType      models.CallType
	callMode      models.CallMode
	recording     bool
	transcription bool
}

func validateCreate(hostID uuid.UUID, req CreateRequest) (*validated, error) {
	v := &validated{recording: true, transcription: true}
	var err error
	if v.callType, err = models.ParseCallType(req.CallType); err != nil {
		return nil, invalid("Invalid call type")
	}
	if v.callMode, err = models.ParseCallMode(req.CallMode); err != nil {
		return nil, invalid("Invalid call mode")
	}
	if strings.TrimSpace(req.ParticipantUserID) == "" {
		return nil, invalid("Participant user ID is required")
	}
	if v.participantID, err = uuid.Parse(req.ParticipantUserID); err != nil {
		return nil, invalid("Participant user ID must be a UUID")
	}
	if v.participantID == hostID {
		return nil, invalid("Host and participant must be different users")
	}
	for _, f := range []struct {
		raw  string
		dst  **uuid.UUID
		name string
	}{
		{req.JobID, &v.jobID, "jobId"},
		{req.ApplicationID, &v.applicationID, "applicationId"},
		{req.InterviewID, &v.interviewID, "interviewId"},
	} {
		if f.raw == "" {
			continue
		}
		id, err := uuid.Parse(f.raw)
		if err != nil {
			return nil, invalid("%s must be a UUID", f.name)
		}
		*f.dst = &id
	}
	if req.EnableRecording != nil {
		v.recording = *req.EnableRecording
	}
	if req.EnableTranscription != nil {
		v.transcription = *req.EnableTranscription
	}
	return v, nil
}

// CallTitle builds the default room title.
func CallTitle(ct models.CallType, hostName, participantName, jobTitle string) string {
	if jobTitle != "" {
		return fmt.Sprintf("%s: %s - %s", ct.Label(), participantName, jobTitle)
	}
	return fmt.Sprintf("%s: %s → %s", ct.Label(), hostName, participantName)
}

// CallDescription builds the default room description.
func CallDescription(ct models.CallType, hostName, participantName, jobTitle string) string {
	desc := fmt.Sprintf("%s between %s (Recruiter) and %s (Candidate)", ct.Label(), hostName, participantName)
	if jobTitle != "" {
		desc += " regarding " + jobTitle + " position"
	}
	return desc
}

// Create provisions a vendor room with host and guest tokens and records it.
// Vendor failures fail the call; database failures are reported in Bookkeeping only.
func (s *Service) Create(ctx context.Context, hostID uuid.UUID, req CreateRequest) (*Created, error) {
	v, err := validateCreate(hostID, req)
	if err != nil {
		return nil, err
	}

	host := s.Identities.Host(ctx, hostID)
	guest := s.Identities.Participant(ctx, v.participantID, req.ParticipantName, req.ParticipantEmail)

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = CallTitle(v.callType, host.Name, guest.Name, req.JobTitle)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = CallDescription(v.callType, host.Name, guest.Name, req.JobTitle)
	}

	now := s.now()
	expiresAt := now.Add(s.opts.RoomTTL)
	vendorRoom, err := s.Provider.CreateRoom(ctx, daily.RoomSpec{
		Name:            daily.RoomName(v.callType, guest.Name, host.Name, now),
		ExpiresAt:       expiresAt,
		MaxParticipants: s.opts.MaxParticipants,
		EnableRecording: v.recording,
	})
	if err != nil {
		return nil, fmt.Errorf("create vendor room: %w", err)
	}

	hostToken, err := s.Provider.CreateMeetingToken(ctx, daily.TokenSpec{
		RoomName:        vendorRoom.Name,
		UserID:          hostID.String(),
		UserName:        daily.DisplayName(host.Name, models.ParticipantRoleHost),
		IsOwner:         true,
		EnableRecording: v.recording,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create host token: %w", err)
	}
	guestToken, err := s.Provider.CreateMeetingToken(ctx, daily.TokenSpec{
		RoomName:  vendorRoom.Name,
		UserID:    v.participantID.String(),
		UserName:  daily.DisplayName(guest.Name, models.ParticipantRoleCandidate),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create participant token: %w", err)
	}

	out := &Created{
		Name:             vendorRoom.Name,
		URL:              vendorRoom.URL,
		HostToken:        hostToken,
		ParticipantToken: guestToken,
		InviteToken:      invitations.NewInviteToken(now),
		CallType:         v.callType,
		CallMode:         v.callMode,
		Title:            title,
	}

	roomID, _, err := s.Registry.Save(ctx, NewRoom{
		DailyRoomName:       vendorRoom.Name,
		DailyRoomURL:        vendorRoom.URL,
		HostToken:           hostToken,
		HostUserID:          hostID,
		HostName:            host.Name,
		ParticipantUserID:   v.participantID,
		ParticipantName:     guest.Name,
		ParticipantEmail:    guest.Email,
		JobID:               v.jobID,
		ApplicationID:       v.applicationID,
		InterviewID:         v.interviewID,
		AgencyID:            host.AgencyID,
		CallType:            v.callType,
		CallMode:            v.callMode,
		Title:               title,
		Description:         description,
		EnableRecording:     v.recording,
		EnableTranscription: v.transcription,
	})
	if err != nil {
		metrics.BookkeepingFailures.WithLabelValues(Table).Inc()
		s.Logger.Error("room not recorded, returning vendor room anyway",
			zap.String("daily_room", vendorRoom.Name), zap.Error(err))
		msg := err.Error()
		out.DB.Error = &msg
		return out, nil
	}
	out.RoomID = &roomID
	out.DB.Saved = true

	inv, err := s.Invitations.Create(ctx, invitations.NewInvitation{
		RoomID:        roomID,
		InviteeUserID: v.participantID,
		InviteeEmail:  guest.Email,
		InviterUserID: hostID,
		InviterName:   host.Name,
		CallType:      v.callType,
		CallTitle:     title,
		RoomURL:       vendorRoom.URL,
		GuestToken:    guestToken,
	})
	if err != nil {
		metrics.BookkeepingFailures.WithLabelValues(invitations.Table).Inc()
		s.Logger.Error("invitation not recorded", zap.String("room_id", roomID.String()), zap.Error(err))
	} else {
		out.DB.InvitationCreated = true
		out.InviteToken = inv.InviteToken
	}

	out.DB.ParticipantsWritten = s.recordParticipants(ctx, roomID, host, guest, vendorRoom.URL, guestToken, now)

	if s.Notifier != nil {
		s.Notifier.Notify(ctx, v.participantID, EventIncomingCall, map[string]any{
			"roomId":   roomID,
			"title":    title,
			"callType": v.callType,
			"hostName": host.Name,
			"joinUrl":  invitations.JoinURL(vendorRoom.URL, guestToken),
		})
	}

	s.Logger.Info("room created",
		zap.String("room_id", roomID.String()),
		zap.String("daily_room", vendorRoom.Name),
		zap.String("call_type", string(v.callType)),
		zap.Bool("invitation_created", out.DB.InvitationCreated),
	)
	return out, nil
}

func (s *Service) recordParticipants(ctx context.Context, roomID uuid.UUID, host, guest models.Profile, roomURL, guestToken string, now time.Time) int {
	entries := []*models.Participant{
		{RoomID: roomID, UserID: host.UserID, Email: host.Email, Name: host.Name,
			Role: models.ParticipantRoleHost, Status: models.ParticipantInvited, InvitedAt: &now},
		{RoomID: roomID, UserID: guest.UserID, Email: guest.Email, Name: guest.Name,
			Role: models.ParticipantRoleCandidate, Status: models.ParticipantInvited, InvitedAt: &now,
			JoinURL: invitations.JoinURL(roomURL, guestToken), DailyToken: guestToken},
	}
	written := 0
	for _, p := range entries {
		if err := s.Ledger.Upsert(ctx, p); err != nil {
			metrics.BookkeepingFailures.WithLabelValues("video_call_participants").Inc()
			s.Logger.Warn("participant entry not recorded",
				zap.String("room_id", roomID.String()), zap.String("role", p.Role), zap.Error(err))
			continue
		}
		written++
	}
	return written
}
