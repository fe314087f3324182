package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/dustin/go-humanize"

	"image-analyzer/internal/logging"
)

// DefaultMemoryRatio is the share of the container limit handed to the Go
// heap. The remainder covers decoder buffers, cgo allocations in the
// catalog driver and goroutine stacks.
const DefaultMemoryRatio = 0.85

// Configuration sources reported in ConfigResult.Source.
const (
	SourceGoMemLimit  = "GOMEMLIMIT"
	SourceMemoryLimit = "MEMORY_LIMIT"
	SourceNone        = "none"
)

// ConfigResult describes what ConfigureFromEnv did.
type ConfigResult struct {
	Configured     bool
	Source         string
	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
}

// ConfigureFromEnv sets the runtime soft memory limit from the container
// limit. Call it before the first large allocation.
//
// GOMEMLIMIT wins when set. Otherwise MEMORY_LIMIT (bytes, usually from the
// Kubernetes Downward API) is scaled by MEMORY_RATIO.
func ConfigureFromEnv(log *logging.Logger) ConfigResult {
	result := ConfigResult{Source: SourceNone}

	if v := os.Getenv("GOMEMLIMIT"); v != "" {
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.Source = SourceGoMemLimit
			result.GoMemLimit = limit
		}
		log.Info("GOMEMLIMIT set via environment: %s", v)
		return result
	}

	raw := os.Getenv("MEMORY_LIMIT")
	if raw == "" {
		log.Debug("MEMORY_LIMIT not set, leaving the Go memory limit alone")
		return result
	}

	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit <= 0 {
		log.Warn("Ignoring MEMORY_LIMIT %q: not a positive byte count", raw)
		return result
	}

	ratio := parseRatio(log, os.Getenv("MEMORY_RATIO"))
	goLimit := int64(float64(limit) * ratio)
	debug.SetMemoryLimit(goLimit)

	result.Configured = true
	result.Source = SourceMemoryLimit
	result.ContainerLimit = limit
	result.GoMemLimit = goLimit
	result.Ratio = ratio

	log.Info("Configured GOMEMLIMIT: %s (%.0f%% of %s container limit)",
		humanize.IBytes(uint64(goLimit)), ratio*100, humanize.IBytes(uint64(limit)))
	return result
}

func parseRatio(log *logging.Logger, raw string) float64 {
	if raw == "" {
		return DefaultMemoryRatio
	}
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil || r <= 0 || r > 1 {
		log.Warn("MEMORY_RATIO %q must be in (0, 1], using %.2f", raw, DefaultMemoryRatio)
		return DefaultMemoryRatio
	}
	return r
}
