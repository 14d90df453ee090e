package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iabetor/aquestalk/internal/cache"
	"github.com/iabetor/aquestalk/internal/database"
	"github.com/iabetor/aquestalk/internal/metrics"
	"github.com/iabetor/aquestalk/internal/synth"
	"github.com/iabetor/aquestalk/pkg/aquestalk"
	"github.com/iabetor/aquestalk/pkg/aquestalk/mock"
	"github.com/iabetor/aquestalk/pkg/wave"
)

type testServer struct {
	srv *Server
	lib *mock.Binding
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	libDir := t.TempDir()
	require.NoError(t, mock.WriteLibraries(libDir, aquestalk.VoiceF1, aquestalk.VoiceDVD))

	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	lib := &mock.Binding{}
	m := metrics.New()
	svc, err := synth.NewService(synth.Options{
		LibDir:  libDir,
		Cache:   cache.New(db, 4),
		Metrics: m,
	}, aquestalk.WithOpener(lib.Opener()))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	return &testServer{srv: New(cfg, svc, m), lib: lib}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, Config{})
	rec := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDPropagated(t *testing.T) {
	ts := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestVoices(t *testing.T) {
	ts := newTestServer(t, Config{})
	rec := ts.do(t, http.MethodGet, "/v1/voices", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Default string            `json:"default"`
		Speed   int               `json:"speed"`
		Voices  []synth.VoiceInfo `json:"voices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "f1", resp.Default)
	assert.Equal(t, 100, resp.Speed)
	require.Len(t, resp.Voices, 8)

	installed := 0
	for _, v := range resp.Voices {
		if v.Installed {
			installed++
		}
	}
	assert.Equal(t, 2, installed)
}

func TestSynthesize_ReturnsWave(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(t, http.MethodPost, "/v1/synthesize", `{"voice":"dvd","speed":150,"text":"こんにちは"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	assert.Equal(t, "dvd", rec.Header().Get("X-Voice"))
	assert.Equal(t, "150", rec.Header().Get("X-Speed"))

	w, err := wave.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, wave.AquesTalkFormat, w.Format)

	rec = ts.do(t, http.MethodPost, "/v1/synthesize", `{"voice":"dvd","speed":150,"text":"こんにちは"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
	assert.Len(t, ts.lib.Calls(), 1)
}

func TestSynthesize_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{"text":`, http.StatusBadRequest},
		{"unknown voice", `{"voice":"zz","text":"あ"}`, http.StatusNotFound},
		{"voice not installed", `{"voice":"jgr","text":"あ"}`, http.StatusNotFound},
		{"empty text", `{"text":""}`, http.StatusBadRequest},
		{"bad speed", `{"speed":999,"text":"あ"}`, http.StatusBadRequest},
		{"unencodable text", `{"text":"😀"}`, http.StatusBadRequest},
	}

	ts := newTestServer(t, Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/synthesize", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decodeError(t, rec)
			assert.NotEmpty(t, resp.Error)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestSynthesize_NativeErrorCode(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.lib.ErrCode = 105

	rec := ts.do(t, http.MethodPost, "/v1/synthesize", `{"text":"あ"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, 105, resp.Code)
}

func TestSynthesize_TextTooLong(t *testing.T) {
	ts := newTestServer(t, Config{MaxTextBytes: 8})
	rec := ts.do(t, http.MethodPost, "/v1/synthesize", `{"text":"あいうえお"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, ts.lib.Calls())
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, Config{})
	rec := ts.do(t, http.MethodGet, "/v1/synthesize", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.do(t, http.MethodPost, "/v1/synthesize", `{"text":"あ"}`)

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `aquestalk_http_requests_total{code="200",route="/v1/synthesize"} 1`)
	assert.Contains(t, body, `aquestalk_synth_requests_total{status="ok",voice="f1"} 1`)
	assert.Contains(t, body, "aquestalk_loaded_voices 1")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotImplemented, statusFor(fmt.Errorf("x: %w", aquestalk.ErrUnsupportedPlatform)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(synth.ErrPoolClosed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestServe_GracefulShutdown(t *testing.T) {
	ts := newTestServer(t, Config{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/v1/synthesize", "application/json",
		bytes.NewBufferString(`{"text":"あ"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
