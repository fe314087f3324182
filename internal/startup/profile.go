package startup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"image-analyzer/internal/analyzer"
	"image-analyzer/internal/retry"
)

// Profile is the optional TOML analyzer profile. It declares the longer
// lists that are awkward in environment variables. Values set through the
// environment or flags take precedence.
type Profile struct {
	Caption CaptionProfile          `toml:"caption"`
	Vision  VisionProfile           `toml:"vision"`
	Retry   map[string]RetryProfile `toml:"retry"`
}

// CaptionProfile configures the caption analyzer.
type CaptionProfile struct {
	BaseURL string   `toml:"base_url"`
	Model   string   `toml:"model"`
	Modes   []string `toml:"modes"`
	Timeout string   `toml:"timeout"`
}

// VisionProfile configures the vision-language analyzer.
type VisionProfile struct {
	Provider  string            `toml:"provider"`
	BaseURL   string            `toml:"base_url"`
	Models    []string          `toml:"models"`
	APIKeyEnv string            `toml:"api_key_env"`
	MaxTokens int               `toml:"max_tokens"`
	Timeout   string            `toml:"timeout"`
	Prompts   []analyzer.Prompt `toml:"prompts"`
}

// RetryProfile overrides one retry category.
type RetryProfile struct {
	MaxRetries *int    `toml:"max_retries"`
	BaseDelay  string  `toml:"base_delay"`
	Multiplier float64 `toml:"multiplier"`
	MaxDelay   string  `toml:"max_delay"`
}

// LoadProfile reads and decodes a profile file. Unknown keys are rejected.
func LoadProfile(path string) (*Profile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open analyzer profile: %w", err)
	}
	defer file.Close()

	var p Profile
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse analyzer profile %s: %w", path, err)
	}
	return &p, nil
}

// Policies applies the profile's retry overrides to the defaults.
func (p *Profile) Policies() (retry.Policies, error) {
	policies := retry.DefaultPolicies()
	for name, o := range p.Retry {
		c := retry.Category(name)
		base, ok := policies[c]
		if !ok {
			return nil, fmt.Errorf("analyzer profile: unknown retry category %q", name)
		}
		if o.MaxRetries != nil {
			base.MaxRetries = *o.MaxRetries
		}
		if o.Multiplier != 0 {
			base.Multiplier = o.Multiplier
		}
		var err error
		if base.BaseDelay, err = parseDurationOr(o.BaseDelay, base.BaseDelay); err != nil {
			return nil, fmt.Errorf("analyzer profile: retry.%s.base_delay: %w", name, err)
		}
		if base.MaxDelay, err = parseDurationOr(o.MaxDelay, base.MaxDelay); err != nil {
			return nil, fmt.Errorf("analyzer profile: retry.%s.max_delay: %w", name, err)
		}
		policies[c] = base
	}
	return policies, nil
}

func parseDurationOr(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// applyProfile fills settings the environment and flags left empty.
func (c *Config) applyProfile(p *Profile) error {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.CaptionURL, p.Caption.BaseURL)
	fill(&c.CaptionModel, p.Caption.Model)
	fill(&c.CaptionModes, strings.Join(p.Caption.Modes, ","))
	fill(&c.VisionProvider, p.Vision.Provider)
	fill(&c.VisionURL, p.Vision.BaseURL)
	fill(&c.VisionModels, strings.Join(p.Vision.Models, ","))
	if c.VisionAPIKey == "" && p.Vision.APIKeyEnv != "" {
		c.VisionAPIKey = os.Getenv(p.Vision.APIKeyEnv)
	}
	if c.VisionMaxTokens == 0 {
		c.VisionMaxTokens = p.Vision.MaxTokens
	}

	var err error
	if c.CaptionTimeout == 0 {
		if c.CaptionTimeout, err = parseDurationOr(p.Caption.Timeout, 0); err != nil {
			return fmt.Errorf("analyzer profile: caption.timeout: %w", err)
		}
	}
	if c.VisionTimeout == 0 {
		if c.VisionTimeout, err = parseDurationOr(p.Vision.Timeout, 0); err != nil {
			return fmt.Errorf("analyzer profile: vision.timeout: %w", err)
		}
	}

	if len(p.Retry) > 0 {
		if c.Policies, err = p.Policies(); err != nil {
			return err
		}
	}
	return nil
}
