package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/models"
)

// Source is the lookup surface the resolver needs.
type Source interface {
	Recruiter(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	UserProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	Candidate(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	IsAgencyRecruiter(ctx context.Context, agencyID, userID uuid.UUID) (bool, error)
	Profiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
}

// Resolver applies the lookup order and fallbacks for call parties.
// Lookup failures degrade to the next source rather than failing the caller.
type Resolver struct {
	src    Source
	logger *zap.Logger
}

// NewResolver creates a resolver over src.
func NewResolver(src Source, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{src: src, logger: logger}
}

// Host resolves the recruiter identity: agency_recruiters, then user_profiles, then "Recruiter".
// AgencyID is set only when the host is an agency recruiter.
func (r *Resolver) Host(ctx context.Context, userID uuid.UUID) models.Profile {
	rec, err := r.src.Recruiter(ctx, userID)
	if err != nil {
		r.logger.Warn("recruiter lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	if rec != nil && rec.Name != "" {
		return *rec
	}

	out := models.Profile{UserID: userID, Name: DefaultHostName}
	if rec != nil {
		out.AgencyID = rec.AgencyID
		out.Email = rec.Email
	}
	prof, err := r.src.UserProfile(ctx, userID)
	if err != nil {
		r.logger.Warn("profile lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	if prof != nil && prof.Name != "" {
		out.Name = prof.Name
		out.AvatarURL = prof.AvatarURL
		if out.Email == "" {
			out.Email = prof.Email
		}
	}
	return out
}

// Participant resolves the invitee: explicit name/email win, then the candidates table, then "Candidate".
func (r *Resolver) Participant(ctx context.Context, userID uuid.UUID, name, email string) models.Profile {
	out := models.Profile{UserID: userID, Name: strings.TrimSpace(name), Email: strings.TrimSpace(email)}
	if out.Name != "" && out.Email != "" {
		return out
	}
	cand, err := r.src.Candidate(ctx, userID)
	if err != nil {
		r.logger.Warn("candidate lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	if cand != nil {
		if out.Name == "" {
			out.Name = cand.Name
		}
		if out.Email == "" {
			out.Email = cand.Email
		}
		out.AvatarURL = cand.AvatarURL
	}
	if out.Name == "" {
		out.Name = DefaultCandidateName
	}
	return out
}

// AgencyOf returns the agency a recruiter belongs to, or nil.
func (r *Resolver) AgencyOf(ctx context.Context, userID uuid.UUID) *uuid.UUID {
	rec, err := r.src.Recruiter(ctx, userID)
	if err != nil {
		r.logger.Warn("recruiter lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
		return nil
	}
	if rec == nil {
		return nil
	}
	return rec.AgencyID
}

// IsAgencyRecruiter reports membership; lookup errors count as "no".
func (r *Resolver) IsAgencyRecruiter(ctx context.Context, agencyID, userID uuid.UUID) bool {
	ok, err := r.src.IsAgencyRecruiter(ctx, agencyID, userID)
	if err != nil {
		r.logger.Warn("agency membership lookup failed", zap.Error(err))
		return false
	}
	return ok
}

// Profiles returns whatever identities could be resolved; errors yield an empty map.
func (r *Resolver) Profiles(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]models.Profile {
	out, err := r.src.Profiles(ctx, ids)
	if err != nil {
		r.logger.Warn("bulk profile lookup failed", zap.Int("ids", len(ids)), zap.Error(err))
		return map[uuid.UUID]models.Profile{}
	}
	return out
}
