package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/models"
)

const (
	defaultInvitationSpec = "@hourly"
	defaultStaleClaimSpec = "@every 10m"
	defaultRetentionSpec  = "0 2 * * *"
	defaultClaimTTL       = 10 * time.Minute
	retentionBatch        = 200
)

// InvitationExpirer expires pending invitations.
type InvitationExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// ClaimReleaser fails transcripts whose processing claim was abandoned.
type ClaimReleaser interface {
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionStore lists and retires old owned-storage recordings.
type RetentionStore interface {
	ListForRetention(ctx context.Context, cutoff time.Time, limit int) ([]*models.Recording, error)
	MarkDeleted(ctx context.Context, id uuid.UUID) error
}

// ObjectDeleter removes stored media.
type ObjectDeleter interface {
	DeleteRecording(ctx context.Context, key string) error
}

// Report counts what one maintenance pass changed.
type Report struct {
	InvitationsExpired int64 `json:"invitationsExpired"`
	ClaimsReleased     int64 `json:"claimsReleased"`
	RecordingsDeleted  int64 `json:"recordingsDeleted"`
}

// Cleaner runs scheduled maintenance. A nil dependency skips its task.
type Cleaner struct {
	invitations InvitationExpirer
	claims      ClaimReleaser
	recordings  RetentionStore
	objects     ObjectDeleter
	cron        *cron.Cron
	now         func() time.Time
	log         *zap.Logger

	claimTTL      time.Duration
	retentionDays int

	invitationSchedule string
	staleClaimSchedule string
	retentionSchedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance.
func WithCron(c *cron.Cron) Option {
	return func(cl *Cleaner) {
		if c != nil {
			cl.cron = c
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(cl *Cleaner) {
		if now != nil {
			cl.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Cleaner) {
		if l != nil {
			cl.log = l
		}
	}
}

// WithClaimTTL sets how old a processing claim must be before it is released.
func WithClaimTTL(d time.Duration) Option {
	return func(cl *Cleaner) {
		if d > 0 {
			cl.claimTTL = d
		}
	}
}

// WithRetentionDays enables recording retention. Zero or less keeps recordings forever.
func WithRetentionDays(days int) Option {
	return func(cl *Cleaner) {
		cl.retentionDays = days
	}
}

// WithSchedules overrides the cron specs. Empty values keep the defaults.
func WithSchedules(invitations, staleClaims, retention string) Option {
	return func(cl *Cleaner) {
		if invitations != "" {
			cl.invitationSchedule = invitations
		}
		if staleClaims != "" {
			cl.staleClaimSchedule = staleClaims
		}
		if retention != "" {
			cl.retentionSchedule = retention
		}
	}
}

// NewCleaner constructs a Cleaner.
func NewCleaner(inv InvitationExpirer, claims ClaimReleaser, recs RetentionStore, objects ObjectDeleter, opts ...Option) *Cleaner {
	cl := &Cleaner{
		invitations:        inv,
		claims:             claims,
		recordings:         recs,
		objects:            objects,
		now:                time.Now,
		log:                zap.NewNop(),
		claimTTL:           defaultClaimTTL,
		invitationSchedule: defaultInvitationSpec,
		staleClaimSchedule: defaultStaleClaimSpec,
		retentionSchedule:  defaultRetentionSpec,
	}
	for _, opt := range opts {
		opt(cl)
	}
	if cl.cron == nil {
		cl.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cl
}

func (c *Cleaner) retentionEnabled() bool {
	return c.recordings != nil && c.objects != nil && c.retentionDays > 0
}

// Start registers the jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	jobs := []struct {
		enabled bool
		spec    string
		name    string
		run     func(context.Context) (int64, error)
	}{
		{c.invitations != nil, c.invitationSchedule, "invitation expiry", c.expireInvitations},
		{c.claims != nil, c.staleClaimSchedule, "stale claim release", c.releaseClaims},
		{c.retentionEnabled(), c.retentionSchedule, "recording retention", c.enforceRetention},
	}
	for _, j := range jobs {
		if !j.enabled {
			continue
		}
		if _, err := c.cron.AddFunc(j.spec, func() {
			n, err := j.run(context.Background())
			if err != nil {
				c.log.Warn(j.name+" failed", zap.Error(err))
				return
			}
			if n > 0 {
				c.log.Info(j.name+" done", zap.Int64("count", n))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	c.cron.Start()
	return nil
}

// Stop halts the scheduler and returns a context done when running jobs finish.
func (c *Cleaner) Stop() context.Context {
	return c.cron.Stop()
}

// RunOnce runs every enabled task once and joins their errors.
func (c *Cleaner) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	var errs error
	if c.invitations != nil {
		n, err := c.expireInvitations(ctx)
		rep.InvitationsExpired = n
		errs = multierr.Append(errs, err)
	}
	if c.claims != nil {
		n, err := c.releaseClaims(ctx)
		rep.ClaimsReleased = n
		errs = multierr.Append(errs, err)
	}
	if c.retentionEnabled() {
		n, err := c.enforceRetention(ctx)
		rep.RecordingsDeleted = n
		errs = multierr.Append(errs, err)
	}
	return rep, errs
}

func (c *Cleaner) expireInvitations(ctx context.Context) (int64, error) {
	n, err := c.invitations.ExpireStale(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	return n, nil
}

func (c *Cleaner) releaseClaims(ctx context.Context) (int64, error) {
	n, err := c.claims.ReleaseStale(ctx, c.now().Add(-c.claimTTL))
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return n, nil
}

// enforceRetention deletes the owned copy of each expired recording. One failing
// object does not stop the rest.
func (c *Cleaner) enforceRetention(ctx context.Context) (int64, error) {
	cutoff := c.now().AddDate(0, 0, -c.retentionDays)
	recs, err := c.recordings.ListForRetention(ctx, cutoff, retentionBatch)
	if err != nil {
		return 0, fmt.Errorf("list recordings for retention: %w", err)
	}
	var deleted int64
	var errs error
	for _, rec := range recs {
		if err := c.objects.DeleteRecording(ctx, rec.StoragePath); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete %s: %w", rec.StoragePath, err))
			continue
		}
		if err := c.recordings.MarkDeleted(ctx, rec.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("mark %s deleted: %w", rec.ID, err))
			continue
		}
		deleted++
	}
	return deleted, errs
}
