package analyzer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/mediatypes"
	"image-analyzer/internal/record"
	"image-analyzer/internal/retry"
)

// Vision-language providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

const (
	defaultVisionTimeout = 120 * time.Second
	defaultOpenAIURL     = "https://api.openai.com/v1"
	defaultOllamaURL     = "http://localhost:11434"
	defaultPrompt        = "Describe this image in detail."
)

// Prompt is a named instruction sent with the image.
type Prompt struct {
	ID   string `toml:"id"`
	Text string `toml:"text"`
}

// VisionConfig configures the vision-language analyzer.
type VisionConfig struct {
	Provider  string
	BaseURL   string
	Models    []string
	APIKey    string
	Prompts   []Prompt
	MaxTokens int
	Timeout   time.Duration
}

// Validate checks the configuration and fills defaults.
func (c *VisionConfig) Validate() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	switch c.Provider {
	case ProviderOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = defaultOpenAIURL
		}
		if c.APIKey == "" {
			return errors.New("vision_language: API key is required for the openai provider")
		}
	case ProviderOllama:
		if c.BaseURL == "" {
			c.BaseURL = defaultOllamaURL
		}
	default:
		return fmt.Errorf("vision_language: unknown provider %q (valid: %s, %s)", c.Provider, ProviderOpenAI, ProviderOllama)
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("vision_language: invalid base URL: %w", err)
	}
	if len(c.Models) == 0 {
		return errors.New("vision_language: at least one model is required")
	}
	if len(c.Prompts) == 0 {
		c.Prompts = []Prompt{{ID: "default", Text: defaultPrompt}}
	}
	seen := make(map[string]bool, len(c.Prompts))
	for i, p := range c.Prompts {
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("vision_language: prompt %d has no text", i)
		}
		if p.ID == "" {
			c.Prompts[i].ID = fmt.Sprintf("prompt%d", i+1)
		}
		if seen[c.Prompts[i].ID] {
			return fmt.Errorf("vision_language: duplicate prompt id %q", c.Prompts[i].ID)
		}
		seen[c.Prompts[i].ID] = true
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultVisionTimeout
	}
	return nil
}

// VisionAnalyzer asks one or more vision-language models about an image.
type VisionAnalyzer struct {
	cfg        VisionConfig
	httpClient *http.Client
	log        *logging.Logger
}

// VisionOption customizes a VisionAnalyzer.
type VisionOption func(*VisionAnalyzer)

// WithVisionHTTPClient overrides the HTTP client.
func WithVisionHTTPClient(client *http.Client) VisionOption {
	return func(a *VisionAnalyzer) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// NewVision creates the vision-language analyzer. cfg must be validated.
func NewVision(cfg VisionConfig, log *logging.Logger, opts ...VisionOption) *VisionAnalyzer {
	a := &VisionAnalyzer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements Analyzer.
func (a *VisionAnalyzer) Name() string { return VisionLanguage }

// Category implements Analyzer.
func (a *VisionAnalyzer) Category() retry.Category { return retry.CategoryUpstream }

// ApplySettings implements SettingsContributor.
func (a *VisionAnalyzer) ApplySettings(s *record.Settings) {
	s.VisionModels = slices.Clone(a.cfg.Models)
	s.Prompts = make([]string, len(a.cfg.Prompts))
	for i, p := range a.cfg.Prompts {
		s.Prompts[i] = p.ID
	}
}

// Analyze implements Analyzer. A failing model and prompt combination is
// stored as an error entry next to the others; the call fails only when
// every combination fails.
func (a *VisionAnalyzer) Analyze(ctx context.Context, path string) (record.Payload, error) {
	encoded, err := readBase64(path)
	if err != nil {
		return nil, err
	}
	mime := mediatypes.GetMimeType(filepath.Ext(path))

	total := len(a.cfg.Models) * len(a.cfg.Prompts)
	responses := make([]any, 0, total)
	var failed int
	var firstErr error
	for _, model := range a.cfg.Models {
		for _, prompt := range a.cfg.Prompts {
			start := time.Now()
			var text string
			switch a.cfg.Provider {
			case ProviderOpenAI:
				text, err = a.openAIChat(ctx, model, prompt.Text, mime, encoded)
			default:
				text, err = a.ollamaChat(ctx, model, prompt.Text, encoded)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			entry := map[string]any{
				"model":     model,
				"prompt_id": prompt.ID,
				"prompt":    prompt.Text,
			}
			if err != nil {
				err = fmt.Errorf("model %s prompt %s: %w", model, prompt.ID, err)
				a.log.Warn("vision_language %s/%s failed on %s: %v", model, prompt.ID, filepath.Base(path), err)
				failed++
				if firstErr == nil {
					firstErr = err
				}
				maps.Copy(entry, errorEntry(err))
			} else {
				a.log.Debug("vision_language %s/%s on %s took %v", model, prompt.ID, filepath.Base(path), time.Since(start))
				entry["status"] = "success"
				entry["response"] = text
			}
			responses = append(responses, entry)
		}
	}
	if failed == total {
		return nil, fmt.Errorf("all %d model/prompt combinations failed: %w", total, firstErr)
	}

	return record.Payload{
		"provider":  a.cfg.Provider,
		"responses": responses,
		"failed":    failed,
	}, nil
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (a *VisionAnalyzer) openAIChat(ctx context.Context, model, prompt, mime, encoded string) (string, error) {
	req := openAIRequest{
		Model: model,
		Messages: []openAIMessage{{
			Role: "user",
			Content: []openAIContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &openAIImageURL{URL: "data:" + mime + ";base64," + encoded}},
			},
		}},
		MaxTokens: a.cfg.MaxTokens,
	}
	headers := http.Header{"Authorization": {"Bearer " + a.cfg.APIKey}}

	var resp openAIResponse
	if err := postJSON(ctx, a.httpClient, "openai", a.cfg.BaseURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", retry.Mark(retry.KindMalformed, errors.New("openai: response has no choices"))
	}
	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", retry.Mark(retry.KindMalformed, fmt.Errorf("openai: empty content (finish_reason=%q, refusal=%q)",
			choice.FinishReason, choice.Message.Refusal))
	}
	return text, nil
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

func (a *VisionAnalyzer) ollamaChat(ctx context.Context, model, prompt, encoded string) (string, error) {
	req := ollamaRequest{
		Model: model,
		Messages: []ollamaMessage{{
			Role:    "user",
			Content: prompt,
			Images:  []string{encoded},
		}},
		Stream: false,
	}

	var resp ollamaResponse
	if err := postJSON(ctx, a.httpClient, "ollama", a.cfg.BaseURL+"/api/chat", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", retry.Mark(retry.KindUpstream, fmt.Errorf("ollama: %s", resp.Error))
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", retry.Mark(retry.KindMalformed, errors.New("ollama: empty content"))
	}
	return text, nil
}
