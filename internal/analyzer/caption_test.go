package analyzer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/retry"
)

func writeImageBytes(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "img.jpg")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type captionServer struct {
	mu       sync.Mutex
	modes    []string
	logins   atomic.Int32
	authSeen atomic.Int32
	status   int
	body     string
	failMode string
}

func (s *captionServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/pinokio/login", func(w http.ResponseWriter, r *http.Request) {
		s.logins.Add(1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/interrogator/analyze", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value == "abc" {
			s.authSeen.Add(1)
		}
		var req captionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if data, err := base64.StdEncoding.DecodeString(req.Image); err != nil || string(data) != "jpeg-bytes" {
			t.Errorf("unexpected image payload %q", req.Image)
		}
		s.mu.Lock()
		s.modes = append(s.modes, req.Mode)
		s.mu.Unlock()

		if req.Mode == s.failMode {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("mode unavailable"))
			return
		}
		if s.status != 0 {
			w.WriteHeader(s.status)
			_, _ = w.Write([]byte(s.body))
			return
		}
		if s.body != "" {
			_, _ = w.Write([]byte(s.body))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt": "a cat, " + req.Mode, "model": req.Model})
	})
	return mux
}

func newCaptionForTest(t *testing.T, url string, cfg CaptionConfig) *CaptionAnalyzer {
	t.Helper()
	cfg.BaseURL = url
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return NewCaption(cfg, logging.Discard())
}

func TestCaptionAnalyze(t *testing.T) {
	t.Parallel()
	srv := &captionServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	a := newCaptionForTest(t, ts.URL, CaptionConfig{Model: "ViT-B", Modes: []string{"fast", "negative"}})
	payload, err := a.Analyze(context.Background(), writeImageBytes(t, "jpeg-bytes"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if payload["model"] != "ViT-B" {
		t.Errorf("model = %v", payload["model"])
	}
	results, ok := payload["results"].(map[string]any)
	if !ok || len(results) != 2 {
		t.Fatalf("results = %#v", payload["results"])
	}
	fast, _ := results["fast"].(map[string]any)
	if fast["prompt"] != "a cat, fast" || fast["status"] != "success" {
		t.Errorf("fast result = %v", fast)
	}
	if len(srv.modes) != 2 || srv.modes[0] != "fast" || srv.modes[1] != "negative" {
		t.Errorf("server saw modes %v", srv.modes)
	}
	if srv.logins.Load() != 0 {
		t.Error("login attempted without a password")
	}
}

func TestCaptionKeepsSuccessfulModes(t *testing.T) {
	t.Parallel()
	srv := &captionServer{failMode: "negative"}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	a := newCaptionForTest(t, ts.URL, CaptionConfig{Modes: []string{"fast", "negative", "best"}})
	payload, err := a.Analyze(context.Background(), writeImageBytes(t, "jpeg-bytes"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(srv.modes) != 3 {
		t.Errorf("server saw modes %v, want each mode once", srv.modes)
	}
	if payload["failed"] != 1 {
		t.Errorf("failed = %v, want 1", payload["failed"])
	}

	results := payload["results"].(map[string]any)
	for _, mode := range []string{"fast", "best"} {
		if r := results[mode].(map[string]any); r["status"] != "success" {
			t.Errorf("%s result = %v, want success", mode, r)
		}
	}
	neg := results["negative"].(map[string]any)
	if neg["status"] != "error" || neg["error_kind"] != string(retry.KindUpstream) {
		t.Errorf("negative result = %v, want an upstream error entry", neg)
	}
}

func TestCaptionAllModesFail(t *testing.T) {
	t.Parallel()
	srv := &captionServer{failMode: "fast"}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	a := newCaptionForTest(t, ts.URL, CaptionConfig{Modes: []string{"fast"}})
	_, err := a.Analyze(context.Background(), writeImageBytes(t, "jpeg-bytes"))
	if got := retry.KindOf(err); got != retry.KindUpstream {
		t.Errorf("KindOf(%v) = %s, want upstream", err, got)
	}
}

func TestCaptionLoginKeepsSession(t *testing.T) {
	t.Parallel()
	srv := &captionServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	a := newCaptionForTest(t, ts.URL, CaptionConfig{Password: "secret", Modes: []string{"best"}})
	path := writeImageBytes(t, "jpeg-bytes")
	for range 3 {
		if _, err := a.Analyze(context.Background(), path); err != nil {
			t.Fatalf("Analyze: %v", err)
		}
	}
	if got := srv.logins.Load(); got != 1 {
		t.Errorf("logins = %d, want 1", got)
	}
	if got := srv.authSeen.Load(); got != 3 {
		t.Errorf("authenticated requests = %d, want 3", got)
	}
}

func TestCaptionBadPasswordContinues(t *testing.T) {
	t.Parallel()
	srv := &captionServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	a := newCaptionForTest(t, ts.URL, CaptionConfig{Password: "wrong"})
	if _, err := a.Analyze(context.Background(), writeImageBytes(t, "jpeg-bytes")); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if srv.authSeen.Load() != 0 {
		t.Error("request carried a session cookie after failed login")
	}
}

func TestCaptionErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   retry.Kind
	}{
		{name: "service unavailable", status: http.StatusServiceUnavailable, body: "loading model", want: retry.KindUpstream},
		{name: "rate limited", status: http.StatusTooManyRequests, want: retry.KindUpstream},
		{name: "bad request", status: http.StatusBadRequest, body: "bad mode", want: retry.KindRejected},
		{name: "malformed body", body: "<html>", want: retry.KindMalformed},
		{name: "service reported error", body: `{"status":"error","message":"CUDA OOM"}`, want: retry.KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := &captionServer{status: tt.status, body: tt.body}
			ts := httptest.NewServer(srv.handler(t))
			defer ts.Close()

			a := newCaptionForTest(t, ts.URL, CaptionConfig{})
			_, err := a.Analyze(context.Background(), writeImageBytes(t, "jpeg-bytes"))
			if err == nil {
				t.Fatal("Analyze returned nil error")
			}
			if got := retry.KindOf(err); got != tt.want {
				t.Errorf("KindOf(%v) = %s, want %s", err, got, tt.want)
			}
		})
	}
}

func TestCaptionTransportError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	a := newCaptionForTest(t, url, CaptionConfig{})
	_, err := a.Analyze(context.Background(), writeImageBytes(t, "jpeg-bytes"))
	if got := retry.KindOf(err); got != retry.KindTransport {
		t.Errorf("KindOf(%v) = %s, want transport", err, got)
	}
}

func TestCaptionMissingFile(t *testing.T) {
	t.Parallel()
	a := newCaptionForTest(t, "http://127.0.0.1:1", CaptionConfig{})
	_, err := a.Analyze(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"))
	if got := retry.KindOf(err); got != retry.KindFileIO {
		t.Errorf("KindOf(%v) = %s, want file_io", err, got)
	}
}
