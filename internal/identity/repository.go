// Package identity reads display identities owned by the wider platform.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
)

// Fallback display names when no identity row exists.
const (
	DefaultHostName      = "Recruiter"
	DefaultCandidateName = "Candidate"
)

// Repository reads agency_recruiters, user_profiles and candidates.
type Repository struct {
	db database.DB
}

// NewRepository creates an identity repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

// Recruiter returns the recruiter row for userID, or nil if the user is not a recruiter.
func (r *Repository) Recruiter(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	const q = `SELECT user_id, agency_id, COALESCE(first_name, ''), COALESCE(last_name, ''),
		COALESCE(email, ''), COALESCE(profile_picture, '')
		FROM agency_recruiters WHERE user_id = $1`
	var p models.Profile
	var agencyID uuid.UUID
	var first, last string
	err := r.db.QueryRow(ctx, q, userID).Scan(&p.UserID, &agencyID, &first, &last, &p.Email, &p.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Name = joinName(first, last)
	p.AgencyID = &agencyID
	return &p, nil
}

// UserProfile returns the generic platform profile for userID, or nil.
func (r *Repository) UserProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	const q = `SELECT user_id, COALESCE(full_name, ''), COALESCE(first_name, ''), COALESCE(last_name, ''),
		COALESCE(email, ''), COALESCE(avatar_url, '')
		FROM user_profiles WHERE user_id = $1`
	var p models.Profile
	var full, first, last string
	err := r.db.QueryRow(ctx, q, userID).Scan(&p.UserID, &full, &first, &last, &p.Email, &p.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Name = strings.TrimSpace(full)
	if p.Name == "" {
		p.Name = joinName(first, last)
	}
	return &p, nil
}

// Candidate returns the candidate row for id, or nil.
func (r *Repository) Candidate(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	const q = `SELECT id, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, ''), COALESCE(avatar_url, '')
		FROM candidates WHERE id = $1`
	var p models.Profile
	var first, last string
	err := r.db.QueryRow(ctx, q, id).Scan(&p.UserID, &first, &last, &p.Email, &p.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Name = joinName(first, last)
	return &p, nil
}

// IsAgencyRecruiter reports whether userID recruits for agencyID.
func (r *Repository) IsAgencyRecruiter(ctx context.Context, agencyID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM agency_recruiters WHERE agency_id = $1 AND user_id = $2)`
	var ok bool
	if err := r.db.QueryRow(ctx, q, agencyID, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Profiles resolves display identities for ids in bulk. Recruiter rows win over
// platform profiles, which win over candidate rows.
func (r *Repository) Profiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	out := make(map[uuid.UUID]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const q = `
		SELECT user_id, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, ''), COALESCE(profile_picture, ''), 3
			FROM agency_recruiters WHERE user_id = ANY($1)
		UNION ALL
		SELECT user_id, COALESCE(NULLIF(full_name, ''), first_name, ''), CASE WHEN COALESCE(full_name, '') = '' THEN COALESCE(last_name, '') ELSE '' END,
			COALESCE(email, ''), COALESCE(avatar_url, ''), 2
			FROM user_profiles WHERE user_id = ANY($1)
		UNION ALL
		SELECT id, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, ''), COALESCE(avatar_url, ''), 1
			FROM candidates WHERE id = ANY($1)
		ORDER BY 6`
	rows, err := r.db.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p models.Profile
		var first, last string
		var rank int
		if err := rows.Scan(&p.UserID, &first, &last, &p.Email, &p.AvatarURL, &rank); err != nil {
			return nil, err
		}
		p.Name = joinName(first, last)
		if p.Name == "" {
			continue
		}
		// lowest rank first; later rows overwrite
		out[p.UserID] = p
	}
	return out, rows.Err()
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
