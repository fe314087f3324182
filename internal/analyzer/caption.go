package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/record"
	"image-analyzer/internal/retry"
)

// CaptionModes are the interrogator modes the caption service accepts.
var CaptionModes = []string{"best", "fast", "classic", "negative", "caption"}

const (
	defaultCaptionModel   = "ViT-L-14/openai"
	defaultCaptionTimeout = 300 * time.Second
	sessionCookie         = "connect.sid"
)

// CaptionConfig configures the caption analyzer.
type CaptionConfig struct {
	BaseURL  string
	Model    string
	Modes    []string
	Password string
	Timeout  time.Duration
}

// Validate checks the configuration and fills defaults.
func (c *CaptionConfig) Validate() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		return errors.New("caption: base URL is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("caption: invalid base URL: %w", err)
	}
	if c.Model == "" {
		c.Model = defaultCaptionModel
	}
	if len(c.Modes) == 0 {
		c.Modes = []string{"best"}
	}
	for _, m := range c.Modes {
		if !slices.Contains(CaptionModes, m) {
			return fmt.Errorf("caption: unknown mode %q (valid: %s)", m, strings.Join(CaptionModes, ", "))
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultCaptionTimeout
	}
	return nil
}

// CaptionAnalyzer queries an interrogator service once per mode.
type CaptionAnalyzer struct {
	cfg        CaptionConfig
	httpClient *http.Client
	log        *logging.Logger

	loginMu  sync.Mutex
	loggedIn bool
}

// CaptionOption customizes a CaptionAnalyzer.
type CaptionOption func(*CaptionAnalyzer)

// WithCaptionHTTPClient overrides the HTTP client. A cookie jar is added
// when the client has none.
func WithCaptionHTTPClient(client *http.Client) CaptionOption {
	return func(a *CaptionAnalyzer) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// NewCaption creates the caption analyzer. cfg must be validated.
func NewCaption(cfg CaptionConfig, log *logging.Logger, opts ...CaptionOption) *CaptionAnalyzer {
	a := &CaptionAnalyzer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.httpClient.Jar == nil {
		jar, _ := cookiejar.New(nil)
		a.httpClient.Jar = jar
	}
	return a
}

// Name implements Analyzer.
func (a *CaptionAnalyzer) Name() string { return Caption }

// Category implements Analyzer.
func (a *CaptionAnalyzer) Category() retry.Category { return retry.CategoryNetwork }

// ApplySettings implements SettingsContributor.
func (a *CaptionAnalyzer) ApplySettings(s *record.Settings) {
	s.CaptionModel = a.cfg.Model
	s.CaptionModes = slices.Clone(a.cfg.Modes)
}

type captionRequest struct {
	Image string `json:"image"`
	Model string `json:"model"`
	Mode  string `json:"mode"`
}

// Analyze implements Analyzer. A failing mode is stored as an error entry
// next to the others; the call fails only when every mode fails.
func (a *CaptionAnalyzer) Analyze(ctx context.Context, path string) (record.Payload, error) {
	a.ensureSession(ctx)

	encoded, err := readBase64(path)
	if err != nil {
		return nil, err
	}

	results := make(map[string]any, len(a.cfg.Modes))
	var failed int
	var firstErr error
	for _, mode := range a.cfg.Modes {
		resp, err := a.interrogate(ctx, encoded, mode)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			err = fmt.Errorf("mode %s: %w", mode, err)
			a.log.Warn("caption mode %s failed on %s: %v", mode, filepath.Base(path), err)
			failed++
			if firstErr == nil {
				firstErr = err
			}
			results[mode] = errorEntry(err)
			continue
		}
		results[mode] = resp
	}
	if failed == len(a.cfg.Modes) {
		return nil, fmt.Errorf("all %d caption modes failed: %w", failed, firstErr)
	}

	return record.Payload{
		"model":   a.cfg.Model,
		"modes":   slices.Clone(a.cfg.Modes),
		"results": results,
		"failed":  failed,
	}, nil
}

func (a *CaptionAnalyzer) interrogate(ctx context.Context, encoded, mode string) (map[string]any, error) {
	var resp map[string]any
	err := postJSON(ctx, a.httpClient, "caption", a.cfg.BaseURL+"/interrogator/analyze", nil,
		captionRequest{Image: encoded, Model: a.cfg.Model, Mode: mode}, &resp)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, retry.Mark(retry.KindMalformed, errors.New("empty response"))
	}
	if status, _ := resp["status"].(string); status == "error" {
		msg, _ := resp["message"].(string)
		return nil, retry.Mark(retry.KindUpstream, fmt.Errorf("service reported error: %s", msg))
	}
	if _, ok := resp["status"]; !ok {
		resp["status"] = "success"
	}
	return resp, nil
}

// ensureSession logs in once when a password is configured. Login
// failures are logged and the analyzer continues unauthenticated.
func (a *CaptionAnalyzer) ensureSession(ctx context.Context) {
	if a.cfg.Password == "" {
		return
	}

	a.loginMu.Lock()
	defer a.loginMu.Unlock()
	if a.loggedIn {
		return
	}

	if err := a.login(ctx); err != nil {
		a.log.Warn("Caption service authentication failed, continuing without: %v", err)
		return
	}
	a.loggedIn = true
	a.log.Info("Authenticated with caption service at %s", a.cfg.BaseURL)
}

func (a *CaptionAnalyzer) login(ctx context.Context) error {
	form := url.Values{"password": {a.cfg.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/pinokio/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	base, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return err
	}
	for _, c := range a.httpClient.Jar.Cookies(base) {
		if c.Name == sessionCookie {
			return nil
		}
	}
	return fmt.Errorf("no %s cookie in login response (http %d)", sessionCookie, resp.StatusCode)
}
