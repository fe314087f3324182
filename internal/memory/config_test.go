package memory

import (
	"math"
	"runtime/debug"
	"testing"

	"image-analyzer/internal/logging"
)

// restoreLimit puts the runtime memory limit back after a test changes it.
func restoreLimit(t *testing.T) {
	t.Helper()
	prev := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })
}

func TestConfigureFromEnv(t *testing.T) {
	tests := []struct {
		name       string
		limit      string
		ratio      string
		configured bool
		source     string
		goLimit    int64
		wantRatio  float64
	}{
		{name: "unset", source: SourceNone},
		{name: "default ratio", limit: "1000000", configured: true, source: SourceMemoryLimit, goLimit: 850000, wantRatio: 0.85},
		{name: "custom ratio", limit: "1000000", ratio: "0.5", configured: true, source: SourceMemoryLimit, goLimit: 500000, wantRatio: 0.5},
		{name: "ratio of one", limit: "1000000", ratio: "1", configured: true, source: SourceMemoryLimit, goLimit: 1000000, wantRatio: 1},
		{name: "ratio out of range", limit: "1000000", ratio: "1.5", configured: true, source: SourceMemoryLimit, goLimit: 850000, wantRatio: 0.85},
		{name: "ratio not a number", limit: "1000000", ratio: "half", configured: true, source: SourceMemoryLimit, goLimit: 850000, wantRatio: 0.85},
		{name: "limit not a number", limit: "512Mi", source: SourceNone},
		{name: "negative limit", limit: "-5", source: SourceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreLimit(t)
			t.Setenv("GOMEMLIMIT", "")
			t.Setenv("MEMORY_LIMIT", tt.limit)
			t.Setenv("MEMORY_RATIO", tt.ratio)

			got := ConfigureFromEnv(logging.Discard())
			if got.Configured != tt.configured || got.Source != tt.source {
				t.Fatalf("ConfigureFromEnv() = %+v, want configured=%v source=%s", got, tt.configured, tt.source)
			}
			if !tt.configured {
				return
			}
			if got.GoMemLimit != tt.goLimit {
				t.Errorf("GoMemLimit = %d, want %d", got.GoMemLimit, tt.goLimit)
			}
			if math.Abs(got.Ratio-tt.wantRatio) > 1e-9 {
				t.Errorf("Ratio = %v, want %v", got.Ratio, tt.wantRatio)
			}
			if applied := debug.SetMemoryLimit(-1); applied != tt.goLimit {
				t.Errorf("runtime limit = %d, want %d", applied, tt.goLimit)
			}
		})
	}
}

func TestConfigureFromEnvPrefersGOMEMLIMIT(t *testing.T) {
	restoreLimit(t)
	debug.SetMemoryLimit(64 << 20)
	t.Setenv("GOMEMLIMIT", "64MiB")
	t.Setenv("MEMORY_LIMIT", "1000000")

	got := ConfigureFromEnv(logging.Discard())
	if got.Source != SourceGoMemLimit || !got.Configured {
		t.Fatalf("ConfigureFromEnv() = %+v, want GOMEMLIMIT source", got)
	}
	if got.GoMemLimit != 64<<20 {
		t.Errorf("GoMemLimit = %d, want %d", got.GoMemLimit, 64<<20)
	}
	if got.ContainerLimit != 0 {
		t.Errorf("ContainerLimit = %d, want 0", got.ContainerLimit)
	}
}
