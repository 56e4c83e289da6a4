package transcripts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/models"
	"github.com/bpoc/video-calls/internal/speech"
	"github.com/bpoc/video-calls/pkg/metrics"
)

// EventTranscriptReady is pushed to the host when a transcript completes.
const EventTranscriptReady = "transcript_ready"

var (
	ErrRecordingNotFound = errors.New("recording not found")
	ErrRoomNotFound      = errors.New("room not found")
	ErrForbidden         = errors.New("not authorized for this room")
	ErrTargetRequired    = errors.New("recording ID or room ID is required")
	ErrNoTranscript      = errors.New("no transcript found to retry")
	ErrNotRetryable      = errors.New("transcript is not in a retryable state")
)

// Store is the transcript state machine storage.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Transcript, error)
	GetByRecording(ctx context.Context, recordingID uuid.UUID) (*models.Transcript, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.Transcript, error)
	Claim(ctx context.Context, roomID, recordingID uuid.UUID, jobID *uuid.UUID, now, staleBefore time.Time) (*Claim, error)
	Complete(ctx context.Context, c Claim, done Completion, at time.Time) (*models.Transcript, error)
	Fail(ctx context.Context, c Claim, code, message, fullText string) (*models.Transcript, error)
}

// Recordings looks up recordings.
type Recordings interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	GetByDailyID(ctx context.Context, dailyRecordingID string) (*models.Recording, error)
	LatestForRoom(ctx context.Context, roomID uuid.UUID) (*models.Recording, error)
}

// Rooms looks up rooms.
type Rooms interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Room, error)
}

// Converter turns a media URL into compact speech audio.
type Converter interface {
	Convert(ctx context.Context, sourceURL string) ([]byte, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (*speech.Result, error)
}

// Summarizer derives a summary from text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (*speech.Summary, error)
}

// AccessLinks issues fresh vendor download links.
type AccessLinks interface {
	RecordingAccessLink(ctx context.Context, recordingID string) (*daily.AccessLink, error)
}

// Signer presigns owned-storage objects.
type Signer interface {
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// Agencies answers agency membership questions.
type Agencies interface {
	IsAgencyRecruiter(ctx context.Context, agencyID, userID uuid.UUID) bool
}

// Notifier pushes in-app events to a user.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data any)
}

// Options bound a pipeline run.
type Options struct {
	// Budget caps a whole run.
	Budget time.Duration
	// ClaimTTL is how long a processing claim blocks other runs.
	ClaimTTL time.Duration
}

// Deps wires the pipeline. Converter and Transcriber are nil when their vendor is not configured.
type Deps struct {
	Store       Store
	Recordings  Recordings
	Rooms       Rooms
	Converter   Converter
	Transcriber Transcriber
	Summarizer  Summarizer
	Links       AccessLinks
	Signer      Signer
	Agencies    Agencies
	Notifier    Notifier
	Logger      *zap.Logger
}

// Pipeline orchestrates conversion, transcription and summarization for one recording.
type Pipeline struct {
	Deps
	opts Options
	now  func() time.Time
}

// NewPipeline creates a pipeline.
func NewPipeline(d Deps, opts Options) *Pipeline {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if opts.Budget <= 0 {
		opts.Budget = 5 * time.Minute
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 10 * time.Minute
	}
	return &Pipeline{Deps: d, opts: opts, now: time.Now}
}

// Request selects the recording to transcribe.
type Request struct {
	// RecordingID is our id or the vendor recording id.
	RecordingID string
	RoomID      *uuid.UUID
	// TranscriptID is only honored by Retry.
	TranscriptID *uuid.UUID
	AudioURL    string
	Source      string
	// UserID is the caller; uuid.Nil with Internal set skips the access check.
	UserID   uuid.UUID
	Internal bool
}

// Outcome is a finished run.
type Outcome struct {
	Transcript *models.Transcript
	// Existing is true when a completed transcript was returned without running any stage.
	Existing bool
}

// Run transcribes the requested recording. Stage failures are returned as *PipelineError
// after the transcript row has been marked failed.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Budget)
	defer cancel()

	rec, room, err := p.target(ctx, req)
	if err != nil {
		return nil, err
	}
	log := p.Logger.With(zap.String("recording_id", rec.ID.String()), zap.String("room_id", rec.RoomID.String()),
		zap.String("source", req.Source))

	existing, err := p.Store.GetByRecording(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == models.TranscriptCompleted {
		metrics.PipelineOutcomes.WithLabelValues("existing").Inc()
		log.Info("transcript already completed")
		return &Outcome{Transcript: existing, Existing: true}, nil
	}

	now := p.now()
	claim, err := p.Store.Claim(ctx, rec.RoomID, rec.ID, room.JobID, now, now.Add(-p.opts.ClaimTTL))
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return p.lostClaim(ctx, rec.ID)
	}

	t, err := p.process(ctx, log, rec, req.AudioURL, *claim)
	if err != nil {
		return nil, err
	}
	metrics.PipelineOutcomes.WithLabelValues("completed").Inc()
	if p.Notifier != nil {
		p.Notifier.Notify(ctx, room.HostUserID, EventTranscriptReady, map[string]any{
			"roomId": room.ID, "recordingId": rec.ID, "transcriptId": t.ID,
		})
	}
	return &Outcome{Transcript: t}, nil
}

func (p *Pipeline) lostClaim(ctx context.Context, recordingID uuid.UUID) (*Outcome, error) {
	t, err := p.Store.GetByRecording(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if t != nil && t.Status == models.TranscriptCompleted {
		metrics.PipelineOutcomes.WithLabelValues("existing").Inc()
		return &Outcome{Transcript: t, Existing: true}, nil
	}
	metrics.PipelineOutcomes.WithLabelValues(CodeInProgress).Inc()
	return nil, Fail(CodeInProgress, "Transcription already in progress for this recording.", "")
}

// Retry re-runs a failed transcript. Completed and processing transcripts are refused.
func (p *Pipeline) Retry(ctx context.Context, req Request) (*Outcome, error) {
	t, err := p.retryTarget(ctx, req)
	if err != nil {
		return nil, err
	}
	if !req.Internal {
		room, err := p.Rooms.Get(ctx, t.RoomID)
		if err != nil {
			return nil, err
		}
		if room == nil {
			return nil, ErrRoomNotFound
		}
		if !p.CanAccess(ctx, room, req.UserID) {
			return nil, ErrForbidden
		}
	}
	if t.Status != models.TranscriptFailed {
		return nil, fmt.Errorf("%w: %s", ErrNotRetryable, t.Status)
	}
	return p.Run(ctx, Request{
		RecordingID: t.RecordingID.String(),
		Source:      "retry",
		UserID:      req.UserID,
		Internal:    req.Internal,
	})
}

func (p *Pipeline) retryTarget(ctx context.Context, req Request) (*models.Transcript, error) {
	var t *models.Transcript
	var err error
	switch {
	case req.TranscriptID != nil:
		t, err = p.Store.Get(ctx, *req.TranscriptID)
	case req.RecordingID != "":
		rec, rerr := p.findRecording(ctx, req.RecordingID)
		if rerr != nil {
			return nil, rerr
		}
		if rec != nil {
			t, err = p.Store.GetByRecording(ctx, rec.ID)
		}
	case req.RoomID != nil:
		var list []*models.Transcript
		list, err = p.Store.ListByRoom(ctx, *req.RoomID)
		if len(list) > 0 {
			t = list[0]
		}
	default:
		return nil, ErrTargetRequired
	}
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNoTranscript
	}
	return t, nil
}

// target resolves the recording and its room and enforces caller access.
func (p *Pipeline) target(ctx context.Context, req Request) (*models.Recording, *models.Room, error) {
	var rec *models.Recording
	var err error
	switch {
	case req.RecordingID != "":
		rec, err = p.findRecording(ctx, req.RecordingID)
	case req.RoomID != nil:
		rec, err = p.Recordings.LatestForRoom(ctx, *req.RoomID)
	default:
		return nil, nil, ErrTargetRequired
	}
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, ErrRecordingNotFound
	}
	room, err := p.Rooms.Get(ctx, rec.RoomID)
	if err != nil {
		return nil, nil, err
	}
	if room == nil {
		return nil, nil, ErrRoomNotFound
	}
	if !req.Internal && !p.CanAccess(ctx, room, req.UserID) {
		return nil, nil, ErrForbidden
	}
	return rec, room, nil
}

// findRecording looks ref up as our id first, then as a vendor recording id.
func (p *Pipeline) findRecording(ctx context.Context, ref string) (*models.Recording, error) {
	if id, err := uuid.Parse(ref); err == nil {
		rec, err := p.Recordings.Get(ctx, id)
		if err != nil || rec != nil {
			return rec, err
		}
	}
	return p.Recordings.GetByDailyID(ctx, ref)
}

// CanAccess allows the host, the participant and recruiters of the agency hosting the room.
func (p *Pipeline) CanAccess(ctx context.Context, room *models.Room, userID uuid.UUID) bool {
	if room.IsParty(userID) {
		return true
	}
	return room.IsAgencyHosted() && p.Agencies != nil && p.Agencies.IsAgencyRecruiter(ctx, *room.AgencyID, userID)
}

func (p *Pipeline) process(ctx context.Context, log *zap.Logger, rec *models.Recording, audioURL string, claim Claim) (*models.Transcript, error) {
	fail := func(pe *PipelineError, fullText string) error {
		metrics.PipelineOutcomes.WithLabelValues(pe.Code).Inc()
		msg := pe.Message
		if pe.Details != "" {
			msg = pe.Details
		}
		log.Error("transcription failed", zap.String("code", pe.Code), zap.String("error", msg))
		if _, err := p.Store.Fail(context.WithoutCancel(ctx), claim, pe.Code, msg, fullText); err != nil {
			log.Error("failed status not recorded", zap.Error(err))
		}
		return pe
	}

	if p.Transcriber == nil {
		return nil, fail(Fail(CodeOpenAINotConfigured,
			"Transcription service not configured. Please set OPENAI_API_KEY.", "OpenAI API key not configured"), "")
	}
	if p.Converter == nil {
		return nil, fail(Fail(CodeCloudConvertNotConfigured,
			"Audio conversion service not configured. Please set CLOUDCONVERT_API_KEY.", "CloudConvert API key not configured"), "")
	}

	sourceURL := p.sourceURL(ctx, log, rec, audioURL)
	if sourceURL == "" {
		return nil, fail(Fail(CodeRecordingURLMissing, "Recording not ready for transcription.",
			"no download URL available for recording"), "")
	}

	var audio []byte
	err := p.stage("convert", func() (err error) {
		audio, err = p.Converter.Convert(ctx, sourceURL)
		return err
	})
	if err != nil {
		audio, err = p.recoverExpired(ctx, log, rec, sourceURL, err)
		if err != nil {
			return nil, fail(Classify(err), "")
		}
	}

	if err := speech.CheckSize(len(audio)); err != nil {
		return nil, fail(Classify(err), "")
	}

	var result *speech.Result
	err = p.stage("transcribe", func() (err error) {
		result, err = p.Transcriber.Transcribe(ctx, audio)
		return err
	})
	if err != nil {
		return nil, fail(Classify(err), "")
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, fail(Fail(CodeEmptyTranscription,
			"Transcription returned empty text. Recording may be silent or too short.", ""), models.NoAudioText)
	}

	done := Completion{FullText: text, Segments: result.Segments, Model: result.Model}
	if p.Summarizer != nil && speech.ShouldSummarize(text) {
		var sum *speech.Summary
		err := p.stage("summarize", func() (err error) {
			sum, err = p.Summarizer.Summarize(ctx, text)
			return err
		})
		if err != nil {
			log.Warn("summary skipped", zap.Error(err))
		} else {
			done.Summary, done.KeyPoints = sum.Text, sum.KeyPoints
		}
	}

	t, err := p.Store.Complete(context.WithoutCancel(ctx), claim, done, p.now())
	if err != nil {
		return nil, fail(Classify(err), "")
	}
	if t == nil {
		metrics.PipelineOutcomes.WithLabelValues(CodeInProgress).Inc()
		return nil, Fail(CodeInProgress, "Transcription claim was taken over by another run.", "")
	}
	log.Info("transcript completed", zap.Int("word_count", t.WordCount), zap.Int("segments", len(t.Segments)),
		zap.Bool("summary", t.Summary != ""))
	return t, nil
}

// sourceURL picks the first available audio source, asking the vendor for a fresh link last.
func (p *Pipeline) sourceURL(ctx context.Context, log *zap.Logger, rec *models.Recording, audioURL string) string {
	for _, u := range []string{audioURL, rec.DownloadURL, rec.RecordingURL} {
		if u != "" {
			return u
		}
	}
	if rec.DailyRecordingID == "" || p.Links == nil {
		return ""
	}
	link, err := p.Links.RecordingAccessLink(ctx, rec.DailyRecordingID)
	if err != nil {
		log.Warn("fresh access link unavailable", zap.Error(err))
		return ""
	}
	return link.DownloadLink
}

// recoverExpired retries conversion once from owned storage when the source URL expired.
func (p *Pipeline) recoverExpired(ctx context.Context, log *zap.Logger, rec *models.Recording, failedURL string, cause error) ([]byte, error) {
	convErr, ok := asExpired(cause)
	if !ok {
		return nil, cause
	}
	details := "CloudConvert conversion failed: " + convErr.Error()
	owned := p.ownedURL(ctx, log, rec)
	if owned == "" || owned == failedURL {
		return nil, Fail(CodeURLExpired, "Recording URL expired. No owned storage copy available.", details)
	}
	log.Info("source expired, retrying from owned storage", zap.String("storage_provider", rec.StorageProvider))
	var audio []byte
	err := p.stage("convert", func() (err error) {
		audio, err = p.Converter.Convert(ctx, owned)
		return err
	})
	if err != nil {
		return nil, Fail(CodeURLExpiredFallbackFailed, "Recording URL expired and owned storage fallback failed.",
			details+" | Retry: "+err.Error())
	}
	return audio, nil
}

func (p *Pipeline) ownedURL(ctx context.Context, log *zap.Logger, rec *models.Recording) string {
	if !rec.InOwnedStorage() {
		return ""
	}
	if rec.StorageProvider == models.StorageS3 && rec.StoragePath != "" && p.Signer != nil {
		u, err := p.Signer.GeneratePresignedDownloadURL(ctx, rec.StoragePath, p.Signer.PresignExpire())
		if err == nil {
			return u
		}
		log.Warn("presign failed", zap.String("key", rec.StoragePath), zap.Error(err))
	}
	return rec.RecordingURL
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.PipelineStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
