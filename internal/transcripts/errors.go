package transcripts

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bpoc/video-calls/internal/conversion"
	"github.com/bpoc/video-calls/internal/speech"
)

// Failure codes callers branch on.
const (
	CodeOpenAINotConfigured       = "OPENAI_NOT_CONFIGURED"
	CodeCloudConvertNotConfigured = "CLOUDCONVERT_NOT_CONFIGURED"
	CodeCloudConvertTimeout       = "CLOUDCONVERT_TIMEOUT"
	CodeURLExpired                = "URL_EXPIRED"
	CodeURLExpiredFallbackFailed  = "URL_EXPIRED_FALLBACK_FAILED"
	CodeCloudConvertError         = "CLOUDCONVERT_ERROR"
	CodeFileTooLarge              = "FILE_TOO_LARGE"
	CodeWhisperError              = "WHISPER_ERROR"
	CodeEmptyTranscription        = "EMPTY_TRANSCRIPTION"
	CodeUnexpected                = "UNEXPECTED_ERROR"
	CodeInProgress                = "TRANSCRIPTION_IN_PROGRESS"
	CodeRecordingURLMissing       = "RECORDING_URL_MISSING"
)

var codeStatus = map[string]int{
	CodeOpenAINotConfigured:       http.StatusServiceUnavailable,
	CodeCloudConvertNotConfigured: http.StatusServiceUnavailable,
	CodeCloudConvertTimeout:       http.StatusGatewayTimeout,
	CodeURLExpired:                http.StatusBadRequest,
	CodeURLExpiredFallbackFailed:  http.StatusBadRequest,
	CodeCloudConvertError:         http.StatusInternalServerError,
	CodeFileTooLarge:              http.StatusBadRequest,
	CodeWhisperError:              http.StatusInternalServerError,
	CodeEmptyTranscription:        http.StatusBadRequest,
	CodeUnexpected:                http.StatusInternalServerError,
	CodeInProgress:                http.StatusConflict,
	CodeRecordingURLMissing:       http.StatusBadRequest,
}

// PipelineError is a terminal pipeline failure with its wire code and HTTP status.
type PipelineError struct {
	Code    string
	Message string
	Details string
	Status  int
}

func (e *PipelineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return e.Code + ": " + e.Message
}

// Fail builds a PipelineError for code.
func Fail(code, message, details string) *PipelineError {
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &PipelineError{Code: code, Message: message, Details: details, Status: status}
}

// AsPipelineError unwraps err into a PipelineError.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	ok := errors.As(err, &pe)
	return pe, ok
}

// Classify maps a stage error onto the failure taxonomy. Expired sources are
// resolved by the pipeline before this is called.
func Classify(err error) *PipelineError {
	if pe, ok := AsPipelineError(err); ok {
		return pe
	}
	if errors.Is(err, speech.ErrFileTooLarge) {
		return Fail(CodeFileTooLarge, "Recording too large for transcription.", err.Error())
	}
	var apiErr *speech.APIError
	if errors.As(err, &apiErr) {
		return Fail(CodeWhisperError, "Transcription failed.", "Whisper transcription failed: "+apiErr.Message)
	}
	if convErr, ok := conversion.AsError(err); ok {
		if convErr.Kind == conversion.KindTimeout {
			return Fail(CodeCloudConvertTimeout, "Audio conversion timed out. The recording may be too long.",
				"CloudConvert conversion failed: "+convErr.Error())
		}
		return Fail(CodeCloudConvertError, "Audio conversion failed.", "CloudConvert conversion failed: "+convErr.Error())
	}
	return Fail(CodeUnexpected, "Transcription failed.", "Unexpected error during transcription: "+err.Error())
}

func asExpired(err error) (*conversion.Error, bool) {
	convErr, ok := conversion.AsError(err)
	return convErr, ok && convErr.SourceExpired()
}
