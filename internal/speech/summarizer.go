package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/pkg/metrics"
)

const (
	// MinSummaryChars is the shortest transcript worth summarizing.
	MinSummaryChars = 100
	// MaxSummaryInput bounds the transcript prefix sent to the model.
	MaxSummaryInput = 8000
)

const summaryPrompt = `You summarize recorded job interview calls between a recruiter and a candidate.
Write a 2-3 sentence summary of the call and list 3-5 key discussion points.
Reply with a JSON object: {"summary": "<2-3 sentence summary>", "keyPoints": ["<3-5 key discussion points>"]}.`

// Summary is the model's condensed view of a transcript.
type Summary struct {
	Text      string   `json:"summary"`
	KeyPoints []string `json:"keyPoints"`
}

// Summarizer asks a chat model for a summary and key points.
type Summarizer struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewSummarizer creates a summarizer; model defaults to gpt-4o-mini.
func NewSummarizer(client *openai.Client, model string, logger *zap.Logger) *Summarizer {
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{client: client, model: model, logger: logger}
}

// ShouldSummarize reports whether text is long enough to summarize.
func ShouldSummarize(text string) bool {
	return len(text) > MinSummaryChars
}

// Summarize returns a summary of the first MaxSummaryInput characters of text.
func (s *Summarizer) Summarize(ctx context.Context, text string) (sum *Summary, err error) {
	defer func() { metrics.VendorCalls.WithLabelValues("openai", "summary", metrics.Result(err)).Inc() }()
	if r := []rune(text); len(r) > MaxSummaryInput {
		text = string(r[:MaxSummaryInput])
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.3,
	})
	if err != nil {
		return nil, vendorError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("summary: no choices returned")
	}

	sum = &Summary{}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), sum); err != nil {
		return nil, fmt.Errorf("summary: decode model output: %w", err)
	}
	sum.Text = strings.TrimSpace(sum.Text)
	if sum.KeyPoints == nil {
		sum.KeyPoints = []string{}
	}
	return sum, nil
}
