package startup

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"image-analyzer/internal/logging"
)

const banner = `
------------------------------------------------------------
    ____                              ___                __
   /  _/___ ___  ____ _____ ____     /   |  ____  ____ _/ /_  ______  ___  _____
   / // __ '__ \/ __ '/ __ '/ _ \   / /| | / __ \/ __ '/ / / / /_  / / _ \/ ___/
 _/ // / / / / / /_/ / /_/ /  __/  / ___ |/ / / / /_/ / / /_/ / / /_/  __/ /
/___/_/ /_/ /_/\__,_/\__, /\___/  /_/  |_/_/ /_/\__,_/_/\__, / /___/\___/_/
                    /____/                             /____/
------------------------------------------------------------`

// PrintBanner writes the banner to w and logs the build information.
func PrintBanner(w io.Writer, log *logging.Logger) {
	fmt.Fprintln(w, banner)
	log.Info("  Version:    %s", Version)
	log.Info("  Commit:     %s", Commit)
	log.Info("  Build Time: %s", BuildTime)
	log.Info("  Started:    %s", time.Now().Format(time.RFC1123))
}

// LogSystemInfo logs runtime details relevant to worker sizing.
func LogSystemInfo(log *logging.Logger) {
	log.Section("SYSTEM INFORMATION")
	log.Info("  Go version:      %s", runtime.Version())
	log.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	log.Info("  CPUs available:  %d", runtime.NumCPU())
	log.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		log.Info("  (Container CPU limit detected)")
	}

	if log.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			log.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			log.Debug("  Hostname:        %s", hostname)
		}
	}
}

// LogConfig logs the resolved configuration. Secrets are masked.
func LogConfig(log *logging.Logger, c *Config) {
	log.Section("CONFIGURATION")
	log.Info("  IMAGE_DIR:           %s", c.InputDir)
	log.Info("  OUTPUT_DIR:          %s", c.OutputDir)
	log.Info("  CATALOG_PATH:        %s", orDisabled(c.CatalogPath))
	log.Info("  ANALYZERS:           %s", strings.Join(c.AnalyzerNames, ", "))
	log.Info("  CONCURRENCY:         %s (max workers %d)", c.Mode, c.MaxWorkers)
	log.Info("  FORCE_REPROCESS:     %v", c.ForceReprocess)
	log.Info("  GENERATE_SUMMARIES:  %v", c.GenerateSummaries)
	log.Info("  HASH_ALGORITHM:      %s", c.Algorithm)
	log.Info("  IMAGE_EXTENSIONS:    %s", c.Extensions)
	if len(c.Exclude) > 0 {
		log.Info("  EXCLUDE_PATTERNS:    %s", strings.Join(c.Exclude, ", "))
	}
	log.Info("  METRICS_ADDR:        %s", orDisabled(c.MetricsAddr))
	if c.ProfilePath != "" {
		log.Info("  ANALYZER_PROFILE:    %s", c.ProfilePath)
	}
	log.Info("  LOG_LEVEL:           %s", log.Level())

	for _, name := range c.AnalyzerNames {
		switch name {
		case "caption":
			log.Debug("  Caption API:         %s (password %s)", c.CaptionURL, mask(c.CaptionPassword))
		case "vision_language":
			log.Debug("  Vision provider:     %s %s (key %s)", c.VisionProvider, c.VisionURL, mask(c.VisionAPIKey))
		}
	}
}

func orDisabled(s string) string {
	if s == "" {
		return "DISABLED"
	}
	return s
}

func mask(secret string) string {
	if secret == "" {
		return "unset"
	}
	return "set"
}
