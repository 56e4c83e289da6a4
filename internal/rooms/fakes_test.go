package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/invitations"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/database"
)

type fakeProvider struct {
	tokens      []daily.TokenSpec
	created     []daily.RoomSpec
	deleted     []string
	createErr   error
	existing    *daily.Room
	roomMissing bool
}

func (f *fakeProvider) CreateRoom(_ context.Context, spec daily.RoomSpec) (*daily.Room, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, spec)
	return &daily.Room{Name: spec.Name, URL: "https://acme.daily.co/" + spec.Name}, nil
}

func (f *fakeProvider) CreateMeetingToken(_ context.Context, spec daily.TokenSpec) (string, error) {
	f.tokens = append(f.tokens, spec)
	if spec.IsOwner {
		return "host-token", nil
	}
	return "guest-token", nil
}

func (f *fakeProvider) GetRoom(_ context.Context, name string) (*daily.Room, error) {
	if f.roomMissing {
		return nil, nil
	}
	if f.existing != nil {
		return f.existing, nil
	}
	return &daily.Room{Name: name}, nil
}

func (f *fakeProvider) DeleteRoom(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

// tableInserter records rows per table and fails according to its switches.
type tableInserter struct {
	mu            sync.Mutex
	rows          map[string][]database.Row
	failAll       map[string]error
	missingColumn string
}

func newTableInserter() *tableInserter {
	return &tableInserter{rows: map[string][]database.Row{}, failAll: map[string]error{}}
}

func (t *tableInserter) InsertRow(_ context.Context, table string, row database.Row) (uuid.UUID, time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[table] = append(t.rows[table], row)
	if err := t.failAll[table]; err != nil {
		return uuid.Nil, time.Time{}, err
	}
	if t.missingColumn != "" && row.Has(t.missingColumn) {
		return uuid.Nil, time.Time{}, &pgconn.PgError{Code: "42703", Message: "column " + t.missingColumn + " does not exist"}
	}
	return uuid.New(), time.Now(), nil
}

type fakeStore struct {
	rooms    map[uuid.UUID]*models.Room
	ended    []uuid.UUID
	advanced []models.RoomStatus
	updates  []Changes
	filter   ListFilter
}

func newFakeStore(rooms ...*models.Room) *fakeStore {
	s := &fakeStore{rooms: map[uuid.UUID]*models.Room{}}
	for _, r := range rooms {
		s.rooms[r.ID] = r
	}
	return s
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*models.Room, error) {
	r, ok := f.rooms[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) List(_ context.Context, filter ListFilter) ([]*models.Room, error) {
	f.filter = filter
	var out []*models.Room
	for _, r := range f.rooms {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) Advance(_ context.Context, _ database.DB, id uuid.UUID, next models.RoomStatus, _ time.Time) (bool, error) {
	r := f.rooms[id]
	if r == nil || !r.Status.CanAdvanceTo(next) {
		return false, nil
	}
	r.Status = next
	f.advanced = append(f.advanced, next)
	return true, nil
}

func (f *fakeStore) End(_ context.Context, id uuid.UUID, _ time.Time, _ *int) (bool, error) {
	f.ended = append(f.ended, id)
	if r := f.rooms[id]; r != nil {
		r.Status = models.RoomStatusEnded
	}
	return true, nil
}

func (f *fakeStore) Update(_ context.Context, id uuid.UUID, ch Changes) error {
	f.updates = append(f.updates, ch)
	if r := f.rooms[id]; r != nil && ch.Rating != nil {
		r.Rating = ch.Rating
	}
	return nil
}

// invitationStore wraps the real repository for Create and fakes the rest.
type invitationStore struct {
	*invitations.Repository
	invited   map[uuid.UUID]bool
	accepted  []uuid.UUID
	cancelled []uuid.UUID
}

func (i *invitationStore) AcceptForRoom(_ context.Context, _ database.DB, _ uuid.UUID, userID uuid.UUID, _ time.Time) error {
	i.accepted = append(i.accepted, userID)
	return nil
}

func (i *invitationStore) HasInvitation(_ context.Context, _ uuid.UUID, userID uuid.UUID) (bool, error) {
	return i.invited[userID], nil
}

func (i *invitationStore) CancelForRoom(_ context.Context, roomID uuid.UUID) (int64, error) {
	i.cancelled = append(i.cancelled, roomID)
	return 1, nil
}

type fakeLedger struct {
	upserts []*models.Participant
	joined  []string
	failAll bool
}

func (f *fakeLedger) Upsert(_ context.Context, p *models.Participant) error {
	if f.failAll {
		return errors.New("ledger down")
	}
	f.upserts = append(f.upserts, p)
	return nil
}

func (f *fakeLedger) MarkJoined(_ context.Context, _ database.DB, _, _ uuid.UUID, name, role string, _ time.Time) error {
	f.joined = append(f.joined, role+":"+name)
	return nil
}

func (f *fakeLedger) ListByRoom(context.Context, uuid.UUID) ([]models.Participant, error) {
	return nil, nil
}

type fakeIdentities struct {
	hosts     map[uuid.UUID]models.Profile
	agency    map[uuid.UUID]uuid.UUID
	profiles  map[uuid.UUID]models.Profile
	lookedFor []uuid.UUID
}

func (f *fakeIdentities) Host(_ context.Context, id uuid.UUID) models.Profile {
	if p, ok := f.hosts[id]; ok {
		return p
	}
	return models.Profile{UserID: id, Name: "Recruiter"}
}

func (f *fakeIdentities) Participant(_ context.Context, id uuid.UUID, name, email string) models.Profile {
	if name == "" {
		name = "Candidate"
	}
	return models.Profile{UserID: id, Name: name, Email: email}
}

func (f *fakeIdentities) AgencyOf(_ context.Context, id uuid.UUID) *uuid.UUID {
	if a, ok := f.agency[id]; ok {
		return &a
	}
	return nil
}

func (f *fakeIdentities) IsAgencyRecruiter(_ context.Context, agencyID, userID uuid.UUID) bool {
	a, ok := f.agency[userID]
	return ok && a == agencyID
}

func (f *fakeIdentities) Profiles(_ context.Context, ids []uuid.UUID) map[uuid.UUID]models.Profile {
	f.lookedFor = append(f.lookedFor, ids...)
	return f.profiles
}

type inlineTx struct{ calls int }

func (t *inlineTx) InTx(_ context.Context, fn func(db database.DB) error) error {
	t.calls++
	return fn(nil)
}

type sentEvent struct {
	user  uuid.UUID
	event string
}

type fakeNotifier struct{ events []sentEvent }

func (f *fakeNotifier) Notify(_ context.Context, userID uuid.UUID, event string, _ any) {
	f.events = append(f.events, sentEvent{userID, event})
}

type harness struct {
	svc      *Service
	provider *fakeProvider
	ins      *tableInserter
	store    *fakeStore
	invites  *invitationStore
	ledger   *fakeLedger
	ids      *fakeIdentities
	tx       *inlineTx
	notifier *fakeNotifier
	roomCap  *database.Capability
}

func newHarness(rooms ...*models.Room) *harness {
	h := &harness{
		provider: &fakeProvider{},
		ins:      newTableInserter(),
		store:    newFakeStore(rooms...),
		ledger:   &fakeLedger{},
		ids:      &fakeIdentities{hosts: map[uuid.UUID]models.Profile{}, agency: map[uuid.UUID]uuid.UUID{}},
		tx:       &inlineTx{},
		notifier: &fakeNotifier{},
		roomCap:  database.NewCapability(Table, true),
	}
	h.invites = &invitationStore{
		Repository: invitations.NewRepository(nil, h.ins, database.NewCapability(invitations.Table, true), nil),
		invited:    map[uuid.UUID]bool{},
	}
	h.svc = NewService(Deps{
		Provider:    h.provider,
		Registry:    NewRegistry(h.ins, h.roomCap, nil),
		Store:       h.store,
		Invitations: h.invites,
		Ledger:      h.ledger,
		Identities:  h.ids,
		Tx:          h.tx,
		Notifier:    h.notifier,
	}, Options{})
	return h
}
