// Package conversion turns a recording URL into compact mono speech audio via CloudConvert.
package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bpoc/video-calls/pkg/metrics"
)

const (
	defaultBaseURL      = "https://api.cloudconvert.com/v2"
	defaultPollInterval = 2 * time.Second
	defaultMaxPolls     = 30
	downloadTimeout     = 30 * time.Second
	requestTimeout      = 30 * time.Second
	maxDownloadBytes    = 200 << 20
)

// Kind classifies a conversion failure.
type Kind int

const (
	// KindSubmit: the job could not be created.
	KindSubmit Kind = iota + 1
	// KindTimeout: the job never finished within the poll budget.
	KindTimeout
	// KindJob: the vendor reported the job as failed.
	KindJob
	// KindDownload: the converted file could not be fetched.
	KindDownload
	// KindEmpty: the converted file had no bytes.
	KindEmpty
)

// Error is a conversion failure with the vendor message preserved.
type Error struct {
	Kind    Kind
	Message string
	Payload string
}

func (e *Error) Error() string {
	if e.Payload != "" {
		return e.Message + ": " + e.Payload
	}
	return e.Message
}

var expiredSource = regexp.MustCompile(`\b(403|404)\b|(?i)forbidden|not found`)

// SourceExpired reports whether the failure looks like the input URL is no longer valid.
func (e *Error) SourceExpired() bool {
	if e.Kind != KindJob && e.Kind != KindSubmit {
		return false
	}
	return expiredSource.MatchString(e.Message) || expiredSource.MatchString(e.Payload)
}

// AsError unwraps err into a conversion Error.
func AsError(err error) (*Error, bool) {
	var convErr *Error
	ok := errors.As(err, &convErr)
	return convErr, ok
}

// Options tune the polling behavior.
type Options struct {
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
	HTTPClient   *http.Client
}

// Client drives CloudConvert jobs.
type Client struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
	http         *http.Client
	logger       *zap.Logger
}

// NewClient creates a CloudConvert client.
func NewClient(apiKey string, opts Options, logger *zap.Logger) *Client {
	c := &Client{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		pollInterval: opts.PollInterval,
		maxPolls:     opts.MaxPolls,
		http:         opts.HTTPClient,
		logger:       logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.maxPolls <= 0 {
		c.maxPolls = defaultMaxPolls
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

type task struct {
	Name      string `json:"name"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Result    *struct {
		Files []struct {
			Filename string `json:"filename"`
			URL      string `json:"url"`
		} `json:"files"`
	} `json:"result"`
}

type job struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Tasks  []task `json:"tasks"`
}

// Convert runs import/url → convert (mp3, 32 kbps, 16 kHz, mono) → export/url and returns the audio bytes.
func (c *Client) Convert(ctx context.Context, sourceURL string) ([]byte, error) {
	j, err := c.createJob(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	c.logger.Info("conversion job created", zap.String("job_id", j.ID))

	fileURL, err := c.waitForJob(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, fileURL)
}

func (c *Client) createJob(ctx context.Context, sourceURL string) (*job, error) {
	body := map[string]any{
		"tasks": map[string]any{
			"import-my-file": map[string]any{
				"operation": "import/url",
				"url":       sourceURL,
			},
			"convert-my-file": map[string]any{
				"operation":       "convert",
				"input":           "import-my-file",
				"output_format":   "mp3",
				"audio_codec":     "mp3",
				"audio_bitrate":   32,
				"audio_frequency": 16000,
				"audio_channels":  1,
			},
			"export-my-file": map[string]any{
				"operation": "export/url",
				"input":     "convert-my-file",
			},
		},
		"tag": "video-call-transcription",
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindSubmit, Message: "marshal job: " + err.Error()}
	}
	var out struct {
		Data job `json:"data"`
	}
	status, payload, err := c.call(ctx, "create_job", http.MethodPost, "/jobs", raw, &out)
	if err != nil {
		return nil, &Error{Kind: KindSubmit, Message: "create job: " + err.Error()}
	}
	if status < 200 || status > 299 {
		return nil, &Error{Kind: KindSubmit, Message: fmt.Sprintf("create job failed with status %d", status), Payload: payload}
	}
	return &out.Data, nil
}

func (c *Client) waitForJob(ctx context.Context, jobID string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		var out struct {
			Data job `json:"data"`
		}
		status, payload, err := c.call(ctx, "get_job", http.MethodGet, "/jobs/"+jobID, nil, &out)
		if err != nil {
			c.logger.Warn("conversion poll failed", zap.String("job_id", jobID), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if status < 200 || status > 299 {
			c.logger.Warn("conversion poll status", zap.String("job_id", jobID), zap.Int("status", status), zap.String("payload", payload))
			continue
		}

		switch out.Data.Status {
		case "finished":
			for _, t := range out.Data.Tasks {
				if t.Operation == "export/url" && t.Result != nil && len(t.Result.Files) > 0 {
					return t.Result.Files[0].URL, nil
				}
			}
			return "", &Error{Kind: KindJob, Message: "job finished without an export file"}
		case "error":
			return "", &Error{Kind: KindJob, Message: "conversion failed: " + failedTaskMessage(out.Data.Tasks)}
		}
	}
	return "", &Error{Kind: KindTimeout, Message: fmt.Sprintf("conversion did not finish after %d polls", c.maxPolls)}
}

func failedTaskMessage(tasks []task) string {
	var msgs []string
	for _, t := range tasks {
		if t.Status == "error" && t.Message != "" {
			msgs = append(msgs, t.Name+": "+t.Message)
		}
	}
	if len(msgs) == 0 {
		return "unknown error"
	}
	return strings.Join(msgs, "; ")
}

func (c *Client) download(ctx context.Context, fileURL string) (data []byte, err error) {
	defer func() { metrics.VendorCalls.WithLabelValues("cloudconvert", "download", metrics.Result(err)).Inc() }()
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindDownload, Message: "build download request: " + err.Error()}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindDownload, Message: "download converted audio: " + err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindDownload, Message: fmt.Sprintf("download converted audio: status %d", resp.StatusCode)}
	}
	data, err = io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, &Error{Kind: KindDownload, Message: "read converted audio: " + err.Error()}
	}
	if len(data) == 0 {
		return nil, &Error{Kind: KindEmpty, Message: "converted audio file is empty"}
	}
	c.logger.Info("converted audio downloaded", zap.Int("bytes", len(data)))
	return data, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, body []byte, out any) (status int, payload string, err error) {
	defer func() { metrics.VendorCalls.WithLabelValues("cloudconvert", op, metrics.Result(err)).Inc() }()
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, string(raw), nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, string(raw), fmt.Errorf("decode %s: %w", op, err)
	}
	return resp.StatusCode, "", nil
}
