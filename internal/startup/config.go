package startup

import (
	"cmp"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"image-analyzer/internal/analyzer"
	"image-analyzer/internal/hasher"
	"image-analyzer/internal/logging"
	"image-analyzer/internal/mediatypes"
	"image-analyzer/internal/pipeline"
	"image-analyzer/internal/retry"
	"image-analyzer/internal/scanner"
	"image-analyzer/internal/workers"
)

// CatalogFileName is the default catalog file inside the output directory.
const CatalogFileName = "image_analysis.db"

// DefaultCaptionURL is the interrogator address used when none is configured.
const DefaultCaptionURL = "http://localhost:7860"

// Config holds all application configuration. Raw fields are filled from
// the environment by FromEnv and may then be overridden by flags; Load
// resolves and validates them into the derived fields.
type Config struct {
	InputDir          string
	OutputDir         string
	CatalogPath       string
	CatalogEnabled    bool
	Analyzers         string
	Concurrency       string
	MaxWorkers        int
	ForceReprocess    bool
	GenerateSummaries bool
	ImageExtensions   string
	ExcludePatterns   string
	IncludeHidden     bool
	HashAlgorithm     string
	MetricsAddr       string
	LogLevel          string
	ProfilePath       string
	ThumbnailSize     int

	CaptionURL      string
	CaptionModel    string
	CaptionModes    string
	CaptionPassword string
	CaptionTimeout  time.Duration

	VisionProvider  string
	VisionURL       string
	VisionModels    string
	VisionAPIKey    string
	VisionPrompt    string
	VisionMaxTokens int
	VisionTimeout   time.Duration

	// Derived by Load.
	AnalyzerNames []string
	Mode          pipeline.Mode
	Algorithm     hasher.Algorithm
	Extensions    mediatypes.ExtensionSet
	Exclude       []string
	Profile       *Profile
	Policies      retry.Policies
}

// FromEnv reads the configuration from environment variables, falling back
// to defaults.
func FromEnv(log *logging.Logger) Config {
	env := envReader{log: log}
	return Config{
		InputDir:          env.getEnv("IMAGE_DIR", "Images"),
		OutputDir:         env.getEnv("OUTPUT_DIR", "Output"),
		CatalogPath:       env.getEnv("CATALOG_PATH", ""),
		CatalogEnabled:    env.getEnvBool("CATALOG_ENABLED", true),
		Analyzers:         env.getEnv("ANALYZERS", "metadata,caption,vision_language"),
		Concurrency:       env.getEnv("CONCURRENCY", string(pipeline.ModeSequential)),
		MaxWorkers:        env.getEnvInt("MAX_WORKERS", workers.DefaultMaxWorkers),
		ForceReprocess:    env.getEnvBool("FORCE_REPROCESS", false),
		GenerateSummaries: env.getEnvBool("GENERATE_SUMMARIES", true),
		ImageExtensions:   env.getEnv("IMAGE_EXTENSIONS", ""),
		ExcludePatterns:   env.getEnv("EXCLUDE_PATTERNS", ""),
		IncludeHidden:     env.getEnvBool("INCLUDE_HIDDEN", false),
		HashAlgorithm:     env.getEnv("HASH_ALGORITHM", string(hasher.Default)),
		MetricsAddr:       env.getEnv("METRICS_ADDR", ""),
		LogLevel:          env.getEnv("LOG_LEVEL", ""),
		ProfilePath:       env.getEnv("ANALYZER_PROFILE", ""),
		ThumbnailSize:     env.getEnvInt("THUMBNAIL_SIZE", 0),

		CaptionURL:      env.getEnv("CAPTION_API_URL", ""),
		CaptionModel:    env.getEnv("CAPTION_MODEL", ""),
		CaptionModes:    env.getEnv("CAPTION_MODES", ""),
		CaptionPassword: env.getEnv("CAPTION_API_PASSWORD", ""),
		CaptionTimeout:  env.getEnvDuration("CAPTION_TIMEOUT", 0),

		VisionProvider:  env.getEnv("VISION_PROVIDER", ""),
		VisionURL:       env.getEnv("VISION_API_URL", ""),
		VisionModels:    env.getEnv("VISION_MODEL", ""),
		VisionAPIKey:    env.getEnv("VISION_API_KEY", ""),
		VisionPrompt:    env.getEnv("VISION_PROMPT", ""),
		VisionMaxTokens: env.getEnvInt("VISION_MAX_TOKENS", 0),
		VisionTimeout:   env.getEnvDuration("VISION_TIMEOUT", 0),
	}
}

// Load completes cfg: it merges the analyzer profile, resolves paths and
// validates every setting. All problems are reported together.
func Load(cfg *Config) error {
	var errs []error

	if cfg.ProfilePath != "" {
		p, err := LoadProfile(cfg.ProfilePath)
		if err != nil {
			return err
		}
		cfg.Profile = p
		if err := cfg.applyProfile(p); err != nil {
			return err
		}
	}

	if cfg.InputDir == "" {
		errs = append(errs, fmt.Errorf("%w: no input directory configured", pipeline.ErrInputMissing))
	} else if abs, err := filepath.Abs(cfg.InputDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to resolve input directory path: %w", err))
	} else {
		cfg.InputDir = abs
	}

	if cfg.OutputDir == "" {
		errs = append(errs, fmt.Errorf("%w: no output directory configured", pipeline.ErrOutputUnwritable))
	} else if abs, err := filepath.Abs(cfg.OutputDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to resolve output directory path: %w", err))
	} else {
		cfg.OutputDir = abs
	}

	switch {
	case !cfg.CatalogEnabled:
		cfg.CatalogPath = ""
	case cfg.CatalogPath == "" && cfg.OutputDir != "":
		cfg.CatalogPath = filepath.Join(cfg.OutputDir, CatalogFileName)
	}

	names, err := analyzer.ParseNames(cfg.Analyzers)
	switch {
	case err != nil:
		errs = append(errs, err)
	case len(names) == 0:
		errs = append(errs, pipeline.ErrNoAnalyzers)
	default:
		cfg.AnalyzerNames = names
	}

	if cfg.Mode, err = pipeline.ParseMode(cfg.Concurrency); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("max workers must be >= 0, got %d", cfg.MaxWorkers))
	}
	if cfg.Algorithm, err = hasher.ParseAlgorithm(cfg.HashAlgorithm); err != nil {
		errs = append(errs, err)
	}

	if cfg.ImageExtensions == "" {
		cfg.Extensions = mediatypes.DefaultExtensions()
	} else if cfg.Extensions, err = mediatypes.ParseExtensions(cfg.ImageExtensions); err != nil {
		errs = append(errs, err)
	}

	cfg.Exclude = splitList(cfg.ExcludePatterns)
	if err := cfg.ScanConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if cfg.Policies == nil {
		cfg.Policies = retry.DefaultPolicies()
	}
	if err := cfg.Policies.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ScanConfig returns the directory scan settings.
func (c *Config) ScanConfig() scanner.Config {
	return scanner.Config{
		Extensions:    c.Extensions,
		Exclude:       c.Exclude,
		IncludeHidden: c.IncludeHidden,
	}
}

// AnalyzerConfig returns the settings for analyzer.Build.
func (c *Config) AnalyzerConfig() analyzer.Config {
	cfg := analyzer.Config{
		Enabled:  c.AnalyzerNames,
		Metadata: analyzer.MetadataConfig{ThumbnailSize: c.ThumbnailSize},
		Caption: analyzer.CaptionConfig{
			BaseURL:  cmp.Or(c.CaptionURL, DefaultCaptionURL),
			Model:    c.CaptionModel,
			Modes:    splitList(c.CaptionModes),
			Password: c.CaptionPassword,
			Timeout:  c.CaptionTimeout,
		},
		Vision: analyzer.VisionConfig{
			Provider:  c.VisionProvider,
			BaseURL:   c.VisionURL,
			Models:    splitList(c.VisionModels),
			APIKey:    c.VisionAPIKey,
			MaxTokens: c.VisionMaxTokens,
			Timeout:   c.VisionTimeout,
		},
	}
	if c.VisionPrompt != "" {
		cfg.Vision.Prompts = []analyzer.Prompt{{ID: "custom", Text: c.VisionPrompt}}
	} else if c.Profile != nil {
		cfg.Vision.Prompts = c.Profile.Vision.Prompts
	}
	return cfg
}

// PipelineOptions returns the batch options for the given analyzers.
func (c *Config) PipelineOptions(as []analyzer.Analyzer) pipeline.Options {
	return pipeline.Options{
		InputDir:          c.InputDir,
		OutputDir:         c.OutputDir,
		CatalogPath:       c.CatalogPath,
		Analyzers:         as,
		Mode:              c.Mode,
		MaxWorkers:        c.MaxWorkers,
		ForceReprocess:    c.ForceReprocess,
		GenerateSummaries: c.GenerateSummaries,
		HashAlgorithm:     c.Algorithm,
		Scan:              c.ScanConfig(),
		Policies:          c.Policies,
	}
}
