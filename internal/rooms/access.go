package rooms

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/models"
)

// actsAsHost reports whether userID may act as the room's host. Rooms created by
// external systems may carry the agency id as host; any recruiter of that agency qualifies.
func (s *Service) actsAsHost(ctx context.Context, room *models.Room, userID uuid.UUID) bool {
	if room.HostUserID == userID {
		return true
	}
	return room.IsAgencyHosted() && s.Identities.IsAgencyRecruiter(ctx, *room.AgencyID, userID)
}

// canView allows the parties, the acting host, and recruiters of the owning agency.
func (s *Service) canView(ctx context.Context, room *models.Room, userID uuid.UUID) bool {
	if room.IsParty(userID) {
		return true
	}
	return room.AgencyID != nil && s.Identities.IsAgencyRecruiter(ctx, *room.AgencyID, userID)
}

// canJoin allows the acting host, the participant, and anyone holding an invitation.
func (s *Service) canJoin(ctx context.Context, room *models.Room, userID uuid.UUID) bool {
	if room.IsParty(userID) || s.actsAsHost(ctx, room, userID) {
		return true
	}
	ok, err := s.Invitations.HasInvitation(ctx, room.ID, userID)
	if err != nil {
		s.Logger.Warn("invitation lookup failed", zap.String("room_id", room.ID.String()), zap.Error(err))
		return false
	}
	return ok
}
