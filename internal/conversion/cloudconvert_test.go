package conversion

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVendor struct {
	srv       *httptest.Server
	polls     atomic.Int32
	jobBody   map[string]any
	jobStatus func(poll int32) map[string]any
	audio     []byte
}

func newFakeVendor(t *testing.T, jobStatus func(poll int32) map[string]any, audio []byte) *fakeVendor {
	t.Helper()
	v := &fakeVendor{jobStatus: jobStatus, audio: audio}
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", onlyMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cc-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&v.jobBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "job-1", "status": "waiting"}})
	}))
	mux.HandleFunc("/jobs/job-1", onlyMethod(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		n := v.polls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": v.jobStatus(n)})
	}))
	mux.HandleFunc("/files/audio.mp3", onlyMethod(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(v.audio)
	}))
	v.srv = httptest.NewServer(mux)
	t.Cleanup(v.srv.Close)
	return v
}

func (v *fakeVendor) client(maxPolls int) *Client {
	return NewClient("cc-key", Options{
		BaseURL:      v.srv.URL,
		PollInterval: time.Millisecond,
		MaxPolls:     maxPolls,
		HTTPClient:   v.srv.Client(),
	}, nil)
}

func (v *fakeVendor) finished() map[string]any {
	return map[string]any{
		"id":     "job-1",
		"status": "finished",
		"tasks": []map[string]any{
			{"name": "convert-my-file", "operation": "convert", "status": "finished"},
			{"name": "export-my-file", "operation": "export/url", "status": "finished",
				"result": map[string]any{"files": []map[string]any{{"filename": "audio.mp3", "url": v.srv.URL + "/files/audio.mp3"}}}},
		},
	}
}

func TestConvertSubmitsSpeechProfileAndDownloads(t *testing.T) {
	var v *fakeVendor
	v = newFakeVendor(t, func(n int32) map[string]any {
		if n < 3 {
			return map[string]any{"id": "job-1", "status": "processing"}
		}
		return v.finished()
	}, []byte("mp3-bytes"))

	data, err := v.client(5).Convert(testContext(t), "https://vendor.example/rec.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), data)
	assert.EqualValues(t, 3, v.polls.Load())

	tasks := v.jobBody["tasks"].(map[string]any)
	imp := tasks["import-my-file"].(map[string]any)
	assert.Equal(t, "import/url", imp["operation"])
	assert.Equal(t, "https://vendor.example/rec.mp4", imp["url"])
	conv := tasks["convert-my-file"].(map[string]any)
	assert.Equal(t, "mp3", conv["output_format"])
	assert.EqualValues(t, 32, conv["audio_bitrate"])
	assert.EqualValues(t, 16000, conv["audio_frequency"])
	assert.EqualValues(t, 1, conv["audio_channels"])
	assert.Equal(t, "convert-my-file", tasks["export-my-file"].(map[string]any)["input"])
}

func TestConvertTimesOutAfterMaxPolls(t *testing.T) {
	v := newFakeVendor(t, func(int32) map[string]any {
		return map[string]any{"id": "job-1", "status": "processing"}
	}, nil)

	_, err := v.client(3).Convert(testContext(t), "https://vendor.example/rec.mp4")
	convErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, convErr.Kind)
	assert.False(t, convErr.SourceExpired())
	assert.EqualValues(t, 3, v.polls.Load())
}

func TestConvertJobErrorCarriesVendorMessage(t *testing.T) {
	v := newFakeVendor(t, func(int32) map[string]any {
		return map[string]any{
			"id":     "job-1",
			"status": "error",
			"tasks": []map[string]any{
				{"name": "import-my-file", "operation": "import/url", "status": "error", "message": "Upstream server returned 403"},
			},
		}
	}, nil)

	_, err := v.client(3).Convert(testContext(t), "https://vendor.example/expired.mp4")
	convErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindJob, convErr.Kind)
	assert.Contains(t, convErr.Error(), "Upstream server returned 403")
	assert.True(t, convErr.SourceExpired())
}

func TestConvertEmptyDownloadIsAnError(t *testing.T) {
	var v *fakeVendor
	v = newFakeVendor(t, func(int32) map[string]any { return v.finished() }, nil)

	_, err := v.client(2).Convert(testContext(t), "https://vendor.example/rec.mp4")
	convErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindEmpty, convErr.Kind)
}

func TestConvertSubmitFailureKeepsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"The given data was invalid."}`))
	}))
	defer srv.Close()

	c := NewClient("cc-key", Options{BaseURL: srv.URL, HTTPClient: srv.Client()}, nil)
	_, err := c.Convert(testContext(t), "https://vendor.example/rec.mp4")
	convErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindSubmit, convErr.Kind)
	assert.Contains(t, convErr.Payload, "The given data was invalid.")
}

func TestSourceExpiredMatchesStatusCodesOnly(t *testing.T) {
	assert.True(t, (&Error{Kind: KindJob, Message: "import failed: 404"}).SourceExpired())
	assert.False(t, (&Error{Kind: KindJob, Message: "file id 14035 unsupported"}).SourceExpired())
	assert.False(t, (&Error{Kind: KindDownload, Message: "status 404"}).SourceExpired())
}

// onlyMethod mirrors Go 1.22+ method-qualified ServeMux patterns on older
// toolchains: requests with any other method get 405.
func onlyMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
