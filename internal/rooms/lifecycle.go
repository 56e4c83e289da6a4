package rooms

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
)

const unknownName = "Unknown"

// List returns up to ListLimit rooms visible to userID, newest first, with missing names filled in.
func (s *Service) List(ctx context.Context, userID uuid.UUID, status string) ([]*models.Room, error) {
	switch status {
	case "", "active", "ended":
	default:
		return nil, invalid("status must be active or ended")
	}
	list, err := s.Store.List(ctx, ListFilter{
		UserID:   userID,
		AgencyID: s.Identities.AgencyOf(ctx, userID),
		Status:   status,
	})
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, list)
	return list, nil
}

func (s *Service) enrich(ctx context.Context, list []*models.Room) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	want := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, rm := range list {
		if rm.HostName == "" || rm.HostName == unknownName || rm.HostAvatar == "" {
			want(rm.HostUserID)
		}
		if rm.ParticipantName == "" || rm.ParticipantName == unknownName || rm.ParticipantAvatar == "" {
			want(rm.ParticipantUserID)
		}
	}
	if len(ids) == 0 {
		return
	}
	profiles := s.Identities.Profiles(ctx, ids)
	for _, rm := range list {
		if p, ok := profiles[rm.HostUserID]; ok {
			if rm.HostName == "" || rm.HostName == unknownName {
				rm.HostName = p.Name
			}
			if rm.HostAvatar == "" {
				rm.HostAvatar = p.AvatarURL
			}
		}
		if p, ok := profiles[rm.ParticipantUserID]; ok {
			if rm.ParticipantName == "" || rm.ParticipantName == unknownName {
				rm.ParticipantName = p.Name
			}
			if rm.ParticipantAvatar == "" {
				rm.ParticipantAvatar = p.AvatarURL
			}
		}
	}
}

// Detail is a room with its participant ledger.
type Detail struct {
	Room         *models.Room         `json:"room"`
	Participants []models.Participant `json:"participants"`
	IsHost       bool                 `json:"isHost"`
}

// Get returns a room the user may see.
func (s *Service) Get(ctx context.Context, roomID, userID uuid.UUID) (*Detail, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !s.canView(ctx, room, userID) {
		return nil, ErrForbidden
	}
	parts, err := s.Ledger.ListByRoom(ctx, roomID)
	if err != nil {
		s.Logger.Warn("participant ledger unavailable", zap.String("room_id", roomID.String()), zap.Error(err))
	}
	if parts == nil {
		parts = []models.Participant{}
	}
	s.enrich(ctx, []*models.Room{room})
	return &Detail{Room: room, Participants: parts, IsHost: s.actsAsHost(ctx, room, userID)}, nil
}

func (s *Service) load(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	room, err := s.Store.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrNotFound
	}
	return room, nil
}

// UpdateRequest is the body for PATCH /video/rooms/:id.
type UpdateRequest struct {
	Status *string `json:"status"`
	Rating *int    `json:"rating"`
	Notes  *string `json:"notes"`
}

// Update changes status (forward only), rating and notes. Only the acting host may update.
func (s *Service) Update(ctx context.Context, roomID, userID uuid.UUID, req UpdateRequest) (*models.Room, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !s.actsAsHost(ctx, room, userID) {
		return nil, ErrForbidden
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return nil, invalid("Rating must be between 1 and 5")
	}

	if req.Status != nil && models.RoomStatus(*req.Status) != room.Status {
		next := models.RoomStatus(*req.Status)
		if !next.Valid() {
			return nil, invalid("invalid status %q", *req.Status)
		}
		if !room.Status.CanAdvanceTo(next) {
			return nil, invalid("cannot move room from %s to %s", room.Status, next)
		}
		if next == models.RoomStatusEnded {
			if err := s.finish(ctx, room); err != nil {
				return nil, err
			}
		} else if _, err := s.Store.Advance(ctx, nil, room.ID, next, s.now()); err != nil {
			return nil, err
		}
	}

	if req.Rating != nil || req.Notes != nil {
		if err := s.Store.Update(ctx, room.ID, Changes{Rating: req.Rating, Notes: req.Notes}); err != nil {
			return nil, err
		}
	}
	return s.load(ctx, roomID)
}

// End closes the room for everyone. Only the acting host may end it.
func (s *Service) End(ctx context.Context, roomID, userID uuid.UUID) error {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return err
	}
	if !s.actsAsHost(ctx, room, userID) {
		return ErrForbidden
	}
	if room.Status == models.RoomStatusEnded {
		return nil
	}
	if err := s.finish(ctx, room); err != nil {
		return err
	}
	if err := s.Provider.DeleteRoom(ctx, room.DailyRoomName); err != nil {
		s.Logger.Warn("vendor room not deleted", zap.String("daily_room", room.DailyRoomName), zap.Error(err))
	}
	return nil
}

func (s *Service) finish(ctx context.Context, room *models.Room) error {
	if _, err := s.Store.End(ctx, room.ID, s.now(), nil); err != nil {
		return err
	}
	if n, err := s.Invitations.CancelForRoom(ctx, room.ID); err != nil {
		s.Logger.Warn("pending invitations not cancelled", zap.String("room_id", room.ID.String()), zap.Error(err))
	} else if n > 0 {
		s.Logger.Info("pending invitations cancelled", zap.String("room_id", room.ID.String()), zap.Int64("count", n))
	}
	if s.Notifier != nil {
		for _, uid := range []uuid.UUID{room.HostUserID, room.ParticipantUserID} {
			s.Notifier.Notify(ctx, uid, EventRoomEnded, map[string]any{"roomId": room.ID})
		}
	}
	return nil
}

// JoinResult is what a client needs to enter the call.
type JoinResult struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	URL                 string    `json:"url"`
	Token               string    `json:"token"`
	IsHost              bool      `json:"isHost"`
	EnableRecording     bool      `json:"enableRecording"`
	EnableTranscription bool      `json:"enableTranscription"`
}

// Join mints a fresh meeting token and records the attendance.
func (s *Service) Join(ctx context.Context, roomID, userID uuid.UUID) (*JoinResult, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !s.canJoin(ctx, room, userID) {
		return nil, ErrForbidden
	}
	if room.Status == models.RoomStatusEnded {
		return nil, ErrEnded
	}
	vendorRoom, err := s.Provider.GetRoom(ctx, room.DailyRoomName)
	if err != nil {
		return nil, err
	}
	if vendorRoom == nil {
		return nil, ErrRoomGone
	}

	isHost := s.actsAsHost(ctx, room, userID)
	role := models.ParticipantRoleGuest
	var name string
	switch {
	case isHost:
		role = models.ParticipantRoleHost
		name = s.Identities.Host(ctx, userID).Name
	case userID == room.ParticipantUserID:
		role = models.ParticipantRoleCandidate
		name = s.Identities.Participant(ctx, userID, room.ParticipantName, room.ParticipantEmail).Name
	default:
		name = s.Identities.Participant(ctx, userID, "", "").Name
	}
	name = daily.StripRoleSuffix(name)

	now := s.now()
	expiresAt := now.Add(s.opts.RoomTTL)
	if vendorRoom.Config.Exp > 0 {
		expiresAt = time.Unix(vendorRoom.Config.Exp, 0)
	}
	token, err := s.Provider.CreateMeetingToken(ctx, daily.TokenSpec{
		RoomName:        room.DailyRoomName,
		UserID:          userID.String(),
		UserName:        daily.DisplayName(name, role),
		IsOwner:         isHost,
		EnableRecording: isHost && room.EnableRecording,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		return nil, err
	}

	err = s.Tx.InTx(ctx, func(db database.DB) error {
		if err := s.Invitations.AcceptForRoom(ctx, db, room.ID, userID, now); err != nil {
			return err
		}
		if err := s.Ledger.MarkJoined(ctx, db, room.ID, userID, name, role, now); err != nil {
			return err
		}
		_, err := s.Store.Advance(ctx, db, room.ID, models.RoomStatusActive, now)
		return err
	})
	if err != nil {
		s.Logger.Warn("join bookkeeping failed", zap.String("room_id", room.ID.String()),
			zap.String("user_id", userID.String()), zap.Error(err))
	}

	return &JoinResult{
		ID:                  room.ID,
		Name:                room.DailyRoomName,
		URL:                 room.DailyRoomURL,
		Token:               token,
		IsHost:              isHost,
		EnableRecording:     room.EnableRecording,
		EnableTranscription: room.EnableTranscription,
	}, nil
}
