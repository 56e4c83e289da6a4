// Package daily is the video room vendor adapter: rooms, meeting tokens and recording links.
package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bpoc/video-calls/pkg/metrics"
)

const (
	defaultBaseURL = "https://api.daily.co/v1"
	requestTimeout = 30 * time.Second
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("daily: api key not configured")

// APIError is a non-2xx response from the vendor. Info carries the vendor's message.
type APIError struct {
	Status    int
	ErrorType string
	Info      string
}

func (e *APIError) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("daily: %d %s: %s", e.Status, e.ErrorType, e.Info)
	}
	return fmt.Sprintf("daily: status %d", e.Status)
}

// IsNotFound reports whether err is a vendor 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Room is a provisioned vendor room.
type Room struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Privacy    string    `json:"privacy"`
	CreatedAt  time.Time `json:"created_at"`
	Config     struct {
		Exp int64 `json:"exp"`
	} `json:"config"`
}

// RoomSpec describes a room to create.
type RoomSpec struct {
	Name            string
	ExpiresAt       time.Time
	MaxParticipants int
	EnableRecording bool
}

// TokenSpec describes a meeting token to mint.
type TokenSpec struct {
	RoomName        string
	UserID          string
	UserName        string
	IsOwner         bool
	EnableRecording bool
	ExpiresAt       time.Time
}

// AccessLink is a short-lived download link for a recording.
type AccessLink struct {
	DownloadLink string `json:"download_link"`
	Expires      int64  `json:"expires"`
}

// RecordingInfo is one entry of the vendor's recording list.
type RecordingInfo struct {
	ID       string  `json:"id"`
	RoomName string  `json:"room_name"`
	StartTS  int64   `json:"start_ts"`
	Status   string  `json:"status"`
	Duration float64 `json:"duration"`
	S3Key    string  `json:"s3key"`
}

// Finished reports whether the vendor has completed the recording.
func (r RecordingInfo) Finished() bool { return r.Status == "finished" }

// Client talks to the Daily REST API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a vendor client. An empty baseURL uses the public API.
func NewClient(apiKey, baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, logger: logger}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// CreateRoom provisions a private room.
func (c *Client) CreateRoom(ctx context.Context, spec RoomSpec) (*Room, error) {
	props := map[string]any{
		"exp":                spec.ExpiresAt.Unix(),
		"max_participants":   spec.MaxParticipants,
		"enable_chat":        true,
		"enable_screenshare": true,
		"enable_prejoin_ui":  false,
		"enable_knocking":    false,
		"eject_at_room_exp":  true,
		"lang":               "en",
	}
	if spec.EnableRecording {
		props["enable_recording"] = "cloud"
	}
	body := map[string]any{
		"name":       spec.Name,
		"privacy":    "private",
		"properties": props,
	}
	var room Room
	if err := c.do(ctx, "create_room", http.MethodPost, "/rooms", body, &room); err != nil {
		return nil, err
	}
	c.logger.Info("daily room created", zap.String("room_name", room.Name))
	return &room, nil
}

// CreateMeetingToken mints a signed token for one participant.
// Owners may control recording; guests never get recording UI.
func (c *Client) CreateMeetingToken(ctx context.Context, spec TokenSpec) (string, error) {
	props := map[string]any{
		"room_name":           spec.RoomName,
		"user_id":             spec.UserID,
		"user_name":           spec.UserName,
		"is_owner":            spec.IsOwner,
		"enable_screenshare":  true,
		"enable_recording_ui": spec.IsOwner && spec.EnableRecording,
	}
	if !spec.ExpiresAt.IsZero() {
		props["exp"] = spec.ExpiresAt.Unix()
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, "create_token", http.MethodPost, "/meeting-tokens", map[string]any{"properties": props}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("daily: empty meeting token")
	}
	return out.Token, nil
}

// GetRoom returns the room, or nil when it no longer exists.
func (c *Client) GetRoom(ctx context.Context, name string) (*Room, error) {
	var room Room
	err := c.do(ctx, "get_room", http.MethodGet, "/rooms/"+url.PathEscape(name), nil, &room)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// DeleteRoom removes the room; a missing room is not an error.
func (c *Client) DeleteRoom(ctx context.Context, name string) error {
	err := c.do(ctx, "delete_room", http.MethodDelete, "/rooms/"+url.PathEscape(name), nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// RecordingAccessLink fetches a fresh download link for a vendor recording.
func (c *Client) RecordingAccessLink(ctx context.Context, recordingID string) (*AccessLink, error) {
	var link AccessLink
	if err := c.do(ctx, "access_link", http.MethodGet, "/recordings/"+url.PathEscape(recordingID)+"/access-link", nil, &link); err != nil {
		return nil, err
	}
	if link.DownloadLink == "" {
		return nil, fmt.Errorf("daily: no download link for recording %s", recordingID)
	}
	return &link, nil
}

// ListRecordings returns the vendor's recordings for one room.
func (c *Client) ListRecordings(ctx context.Context, roomName string) ([]RecordingInfo, error) {
	var out struct {
		Data []RecordingInfo `json:"data"`
	}
	if err := c.do(ctx, "list_recordings", http.MethodGet, "/recordings?room_name="+url.QueryEscape(roomName), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	defer func() { metrics.VendorCalls.WithLabelValues("daily", op, metrics.Result(err)).Inc() }()
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("daily: marshal %s: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("daily: build %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daily: %s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("daily: read %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Info  string `json:"info"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.ErrorType, apiErr.Info = payload.Error, payload.Info
		}
		c.logger.Warn("daily api error", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("info", apiErr.Info))
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("daily: decode %s: %w", op, err)
	}
	return nil
}
