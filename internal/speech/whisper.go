// Package speech wraps the OpenAI speech-to-text and summary models.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/pkg/metrics"
)

// MaxAudioBytes is the largest upload the transcription endpoint accepts.
const MaxAudioBytes = 25 * 1024 * 1024

// ErrFileTooLarge is returned before any vendor call when audio exceeds MaxAudioBytes.
var ErrFileTooLarge = errors.New("audio file exceeds 25MB limit")

// APIError carries the vendor's failure message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("openai: %s (status %d)", e.Message, e.Status)
	}
	return "openai: " + e.Message
}

// Result is a finished transcription.
type Result struct {
	Text     string
	Segments []models.Segment
	Model    string
}

// CheckSize rejects audio larger than MaxAudioBytes.
func CheckSize(n int) error {
	if n > MaxAudioBytes {
		return fmt.Errorf("%w: %.1fMB", ErrFileTooLarge, float64(n)/1024/1024)
	}
	return nil
}

// NewOpenAIClient builds a go-openai client, honoring a custom base URL when set.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// Whisper transcribes English speech with whisper-1.
type Whisper struct {
	client *openai.Client
	logger *zap.Logger
}

// NewWhisper creates a transcriber.
func NewWhisper(client *openai.Client, logger *zap.Logger) *Whisper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Whisper{client: client, logger: logger}
}

// Transcribe sends mp3 audio and returns text with time-aligned segments.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte) (res *Result, err error) {
	if err := CheckSize(len(audio)); err != nil {
		return nil, err
	}
	defer func() { metrics.VendorCalls.WithLabelValues("openai", "transcription", metrics.Result(err)).Inc() }()

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "audio.mp3",
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: "en",
	})
	if err != nil {
		return nil, vendorError(err)
	}

	res = &Result{Text: strings.TrimSpace(resp.Text), Model: openai.Whisper1}
	res.Segments = make([]models.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		res.Segments = append(res.Segments, models.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	w.logger.Info("transcription received", zap.Int("chars", len(res.Text)), zap.Int("segments", len(res.Segments)))
	return res, nil
}

func vendorError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := "request failed"
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &APIError{Status: reqErr.HTTPStatusCode, Message: msg}
	}
	return &APIError{Message: err.Error()}
}
