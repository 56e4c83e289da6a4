package rooms

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpoc/video-calls/internal/middleware"
	"github.com/bpoc/video-calls/internal/models"
)

func router(h *harness, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})
	hd := NewHandler(h.svc, nil)
	r.POST("/video/rooms", hd.Create)
	r.GET("/video/rooms/:id", hd.Get)
	r.POST("/video/rooms/:id/join", hd.Join)
	return r
}

func post(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateHandlerReturnsRoomWhenBookkeepingFails(t *testing.T) {
	h := newHarness()
	h.ins.failAll[Table] = errors.New("permission denied")

	w := post(router(h, uuid.New()), "/video/rooms", map[string]any{
		"participantUserId": uuid.NewString(),
		"participantName":   "Jane Doe",
		"callType":          "recruiter_round_1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Success bool `json:"success"`
		Room    struct {
			ID            *string `json:"id"`
			Name          string  `json:"name"`
			HostToken     string  `json:"hostToken"`
			CallTypeLabel string  `json:"callTypeLabel"`
		} `json:"room"`
		DB struct {
			Saved             bool    `json:"saved"`
			InvitationCreated bool    `json:"invitationCreated"`
			Error             *string `json:"error"`
		} `json:"db"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Nil(t, body.Room.ID)
	assert.NotEmpty(t, body.Room.Name)
	assert.Equal(t, "host-token", body.Room.HostToken)
	assert.Equal(t, "Round 1 Interview", body.Room.CallTypeLabel)
	assert.False(t, body.DB.Saved)
	assert.False(t, body.DB.InvitationCreated)
	require.NotNil(t, body.DB.Error)
}

func TestCreateHandlerRejectsSelfInvite(t *testing.T) {
	h := newHarness()
	host := uuid.New()
	w := post(router(h, host), "/video/rooms", map[string]any{"participantUserId": host.String()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.provider.created)
}

func TestJoinHandlerMapsErrors(t *testing.T) {
	host := uuid.New()
	ended := room(host, uuid.New(), models.RoomStatusEnded)
	h := newHarness(ended)
	r := router(h, host)

	assert.Equal(t, http.StatusBadRequest, post(r, "/video/rooms/"+ended.ID.String()+"/join", nil).Code)
	assert.Equal(t, http.StatusNotFound, post(r, "/video/rooms/"+uuid.NewString()+"/join", nil).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, "/video/rooms/not-a-uuid/join", nil).Code)

	stranger := router(h, uuid.New())
	assert.Equal(t, http.StatusForbidden, post(stranger, "/video/rooms/"+ended.ID.String()+"/join", nil).Code)
}

func TestGetHandlerIncludesParticipants(t *testing.T) {
	host := uuid.New()
	rm := room(host, uuid.New(), models.RoomStatusActive)
	h := newHarness(rm)

	w := httptest.NewRecorder()
	router(h, host).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/video/rooms/"+rm.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["isHost"])
	assert.Equal(t, []any{}, body["participants"])
}
