package rooms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpoc/video-calls/internal/invitations"
	"github.com/bpoc/video-calls/internal/models"
)

func createReq(participant uuid.UUID) CreateRequest {
	return CreateRequest{
		ParticipantUserID: participant.String(),
		ParticipantName:   "Jane Doe",
		ParticipantEmail:  "jane@example.com",
		CallType:          "client_round_1",
		JobTitle:          "Go Engineer",
	}
}

func TestCreateRecordsRoomInvitationAndParticipants(t *testing.T) {
	h := newHarness()
	host, agency, participant := uuid.New(), uuid.New(), uuid.New()
	h.ids.hosts[host] = models.Profile{UserID: host, Name: "Rita Cruz", AgencyID: &agency}

	out, err := h.svc.Create(context.Background(), host, createReq(participant))
	require.NoError(t, err)

	assert.True(t, out.DB.Saved)
	assert.True(t, out.DB.InvitationCreated)
	assert.Nil(t, out.DB.Error)
	require.NotNil(t, out.RoomID)
	assert.Equal(t, "Client Round 1: Jane Doe - Go Engineer", out.Title)
	assert.Equal(t, "host-token", out.HostToken)
	assert.Equal(t, "guest-token", out.ParticipantToken)

	inv := h.ins.rows[invitations.Table]
	require.Len(t, inv, 1)
	sentAt := inv[0].Value("notification_sent_at").(time.Time)
	expiresAt := inv[0].Value("expires_at").(time.Time)
	assert.Equal(t, 24*time.Hour, expiresAt.Sub(sentAt))
	assert.Equal(t, "pending", inv[0].Value("status"))
	assert.Equal(t, "https://acme.daily.co/"+out.Name+"?t=guest-token", inv[0].Value("join_url"))
	assert.Equal(t, out.InviteToken, inv[0].Value("invite_token"))

	require.Len(t, h.ledger.upserts, 2)
	roles := map[string]*models.Participant{}
	for _, p := range h.ledger.upserts {
		assert.Equal(t, models.ParticipantInvited, p.Status)
		assert.Equal(t, *out.RoomID, p.RoomID)
		roles[p.Role] = p
	}
	require.Contains(t, roles, models.ParticipantRoleHost)
	require.Contains(t, roles, models.ParticipantRoleCandidate)
	assert.Equal(t, "guest-token", roles[models.ParticipantRoleCandidate].DailyToken)

	room := h.ins.rows[Table][0]
	assert.Equal(t, &agency, room.Value("agency_id"))
	assert.Equal(t, []sentEvent{{participant, EventIncomingCall}}, h.notifier.events)
}

func TestCreateTokensAndRoomSpec(t *testing.T) {
	h := newHarness()
	host := uuid.New()
	h.ids.hosts[host] = models.Profile{UserID: host, Name: "Rita Cruz"}

	_, err := h.svc.Create(context.Background(), host, createReq(uuid.New()))
	require.NoError(t, err)

	require.Len(t, h.provider.created, 1)
	spec := h.provider.created[0]
	assert.Equal(t, 10, spec.MaxParticipants)
	assert.True(t, spec.EnableRecording)
	assert.Regexp(t, `^cr1-jane-[a-z]{3}\d{1,2}-[a-z0-9]{4}$`, spec.Name)

	require.Len(t, h.provider.tokens, 2)
	assert.True(t, h.provider.tokens[0].IsOwner)
	assert.Equal(t, "Rita Cruz — Recruiter", h.provider.tokens[0].UserName)
	assert.False(t, h.provider.tokens[1].IsOwner)
	assert.False(t, h.provider.tokens[1].EnableRecording)
	assert.Equal(t, "Jane Doe — Candidate", h.provider.tokens[1].UserName)
	assert.Equal(t, spec.ExpiresAt, h.provider.tokens[1].ExpiresAt)
}

func TestCreateSucceedsWhenEveryRoomInsertFails(t *testing.T) {
	h := newHarness()
	h.ins.failAll[Table] = errors.New("relation is read-only")

	out, err := h.svc.Create(context.Background(), uuid.New(), createReq(uuid.New()))
	require.NoError(t, err)

	assert.False(t, out.DB.Saved)
	assert.False(t, out.DB.InvitationCreated)
	require.NotNil(t, out.DB.Error)
	assert.Contains(t, *out.DB.Error, "relation is read-only")
	assert.Nil(t, out.RoomID)
	assert.NotEmpty(t, out.URL)
	assert.Len(t, h.ins.rows[Table], 2, "full then base attempt")
	assert.Empty(t, h.ins.rows[invitations.Table])
	assert.Empty(t, h.ledger.upserts)
}

func TestCreateKeepsGoingWhenLedgerFails(t *testing.T) {
	h := newHarness()
	h.ledger.failAll = true

	out, err := h.svc.Create(context.Background(), uuid.New(), createReq(uuid.New()))
	require.NoError(t, err)
	assert.True(t, out.DB.Saved)
	assert.Equal(t, 0, out.DB.ParticipantsWritten)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness()
	host := uuid.New()

	cases := map[string]CreateRequest{
		"same user":        {ParticipantUserID: host.String()},
		"missing":          {},
		"bad call type":    {ParticipantUserID: uuid.NewString(), CallType: "podcast"},
		"bad call mode":    {ParticipantUserID: uuid.NewString(), CallMode: "fax"},
		"bad job id":       {ParticipantUserID: uuid.NewString(), JobID: "42"},
		"bad participant":  {ParticipantUserID: "jane"},
	}
	for name, req := range cases {
		_, err := h.svc.Create(context.Background(), host, req)
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr), name)
	}
	assert.Empty(t, h.provider.created)
}

func TestCreateDefaultsCallTypeAndTitleWithoutJob(t *testing.T) {
	h := newHarness()
	out, err := h.svc.Create(context.Background(), uuid.New(), CreateRequest{ParticipantUserID: uuid.NewString()})
	require.NoError(t, err)
	assert.Equal(t, models.CallTypeRecruiterGeneral, out.CallType)
	assert.Equal(t, models.CallModeVideo, out.CallMode)
	assert.Equal(t, "General Call: Recruiter → Candidate", out.Title)
}

func TestCreateVendorFailureFails(t *testing.T) {
	h := newHarness()
	h.provider.createErr = errors.New("daily: 500")
	_, err := h.svc.Create(context.Background(), uuid.New(), createReq(uuid.New()))
	require.Error(t, err)
	assert.Empty(t, h.ins.rows)
}

func room(host, participant uuid.UUID, status models.RoomStatus) *models.Room {
	return &models.Room{
		ID:                uuid.New(),
		DailyRoomName:     "r1-jane-may4-ab12",
		DailyRoomURL:      "https://acme.daily.co/r1-jane-may4-ab12",
		HostUserID:        host,
		ParticipantUserID: participant,
		ParticipantName:   "Jane Doe",
		Status:            status,
		EnableRecording:   true,
	}
}

func TestJoinMintsTokenAndActivatesRoom(t *testing.T) {
	host, participant := uuid.New(), uuid.New()
	rm := room(host, participant, models.RoomStatusCreated)
	h := newHarness(rm)

	res, err := h.svc.Join(context.Background(), rm.ID, participant)
	require.NoError(t, err)
	assert.False(t, res.IsHost)
	assert.Equal(t, "guest-token", res.Token)
	assert.Equal(t, []models.RoomStatus{models.RoomStatusActive}, h.store.advanced)
	assert.Equal(t, []uuid.UUID{participant}, h.invites.accepted)
	assert.Equal(t, []string{"candidate:Jane Doe"}, h.ledger.joined)
	assert.Equal(t, 1, h.tx.calls)
	assert.Equal(t, "Jane Doe — Candidate", h.provider.tokens[0].UserName)
}

func TestJoinAgencyRecruiterActsAsHost(t *testing.T) {
	agency, recruiter := uuid.New(), uuid.New()
	rm := room(agency, uuid.New(), models.RoomStatusActive)
	rm.AgencyID = &agency
	h := newHarness(rm)
	h.ids.agency[recruiter] = agency

	res, err := h.svc.Join(context.Background(), rm.ID, recruiter)
	require.NoError(t, err)
	assert.True(t, res.IsHost)
	assert.True(t, h.provider.tokens[0].IsOwner)
	assert.True(t, h.provider.tokens[0].EnableRecording)
}

func TestJoinRejections(t *testing.T) {
	host, participant := uuid.New(), uuid.New()
	ended := room(host, participant, models.RoomStatusEnded)
	live := room(host, participant, models.RoomStatusActive)
	h := newHarness(ended, live)

	_, err := h.svc.Join(context.Background(), ended.ID, host)
	assert.ErrorIs(t, err, ErrEnded)

	_, err = h.svc.Join(context.Background(), live.ID, uuid.New())
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.svc.Join(context.Background(), uuid.New(), host)
	assert.ErrorIs(t, err, ErrNotFound)

	h.provider.roomMissing = true
	_, err = h.svc.Join(context.Background(), live.ID, host)
	assert.ErrorIs(t, err, ErrRoomGone)
}

func TestJoinAllowsInvitee(t *testing.T) {
	invitee := uuid.New()
	rm := room(uuid.New(), uuid.New(), models.RoomStatusWaiting)
	h := newHarness(rm)
	h.invites.invited[invitee] = true

	res, err := h.svc.Join(context.Background(), rm.ID, invitee)
	require.NoError(t, err)
	assert.False(t, res.IsHost)
}

func TestEndCancelsInvitationsAndDeletesVendorRoom(t *testing.T) {
	host, participant := uuid.New(), uuid.New()
	rm := room(host, participant, models.RoomStatusActive)
	h := newHarness(rm)

	require.ErrorIs(t, h.svc.End(context.Background(), rm.ID, participant), ErrForbidden)
	require.NoError(t, h.svc.End(context.Background(), rm.ID, host))

	assert.Equal(t, []uuid.UUID{rm.ID}, h.store.ended)
	assert.Equal(t, []uuid.UUID{rm.ID}, h.invites.cancelled)
	assert.Equal(t, []string{rm.DailyRoomName}, h.provider.deleted)
	assert.Len(t, h.notifier.events, 2)
}

func TestUpdateValidatesRatingAndStatusOrder(t *testing.T) {
	host := uuid.New()
	rm := room(host, uuid.New(), models.RoomStatusActive)
	h := newHarness(rm)

	bad := 6
	_, err := h.svc.Update(context.Background(), rm.ID, host, UpdateRequest{Rating: &bad})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	back := "waiting"
	_, err = h.svc.Update(context.Background(), rm.ID, host, UpdateRequest{Status: &back})
	require.ErrorAs(t, err, &verr)

	good := 4
	updated, err := h.svc.Update(context.Background(), rm.ID, host, UpdateRequest{Rating: &good})
	require.NoError(t, err)
	assert.Equal(t, 4, *updated.Rating)

	end := "ended"
	updated, err = h.svc.Update(context.Background(), rm.ID, host, UpdateRequest{Status: &end})
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusEnded, updated.Status)
}

func TestListFillsUnknownNamesAndScopesToAgency(t *testing.T) {
	recruiter, agency, candidate := uuid.New(), uuid.New(), uuid.New()
	rm := room(recruiter, candidate, models.RoomStatusActive)
	rm.ParticipantName = "Unknown"
	h := newHarness(rm)
	h.ids.agency[recruiter] = agency
	h.ids.profiles = map[uuid.UUID]models.Profile{
		candidate: {UserID: candidate, Name: "Jane Doe", AvatarURL: "https://cdn/jane.png"},
	}

	list, err := h.svc.List(context.Background(), recruiter, "active")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Jane Doe", list[0].ParticipantName)
	assert.Equal(t, "https://cdn/jane.png", list[0].ParticipantAvatar)
	assert.Equal(t, &agency, h.store.filter.AgencyID)
	assert.Equal(t, "active", h.store.filter.Status)

	_, err = h.svc.List(context.Background(), recruiter, "archived")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}
