package analyzer

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"image-analyzer/internal/record"
	"image-analyzer/internal/retry"
)

// Analyzer names in pipeline order.
const (
	Metadata       = "metadata"
	Caption        = "caption"
	VisionLanguage = "vision_language"
)

// Order is the order analyzers run in for each file.
var Order = []string{Metadata, Caption, VisionLanguage}

// Analyzer turns an image into a payload.
type Analyzer interface {
	// Name is the key used in records and roll-ups.
	Name() string
	// Category selects the retry policy applied around Analyze.
	Category() retry.Category
	// Analyze processes the image at path.
	Analyze(ctx context.Context, path string) (record.Payload, error)
}

// SettingsContributor is implemented by analyzers that record their
// configuration in each record's settings.
type SettingsContributor interface {
	ApplySettings(s *record.Settings)
}

// ParseNames parses a comma separated analyzer list, accepting the aliases
// "clip" for caption and "llm" for vision_language. The result is
// deduplicated and in pipeline order.
func ParseNames(s string) ([]string, error) {
	seen := make(map[string]bool)
	for _, f := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(f))
		switch name {
		case "":
			continue
		case "clip":
			name = Caption
		case "llm", "vision", "vlm":
			name = VisionLanguage
		}
		if !slices.Contains(Order, name) {
			return nil, fmt.Errorf("unknown analyzer %q", f)
		}
		seen[name] = true
	}

	var names []string
	for _, name := range Order {
		if seen[name] {
			names = append(names, name)
		}
	}
	return names, nil
}

// SortByOrder returns analyzers sorted into pipeline order. Unknown names
// keep their relative order after the known ones.
func SortByOrder(as []Analyzer) []Analyzer {
	out := slices.Clone(as)
	rank := func(a Analyzer) int {
		if i := slices.Index(Order, a.Name()); i >= 0 {
			return i
		}
		return len(Order)
	}
	slices.SortStableFunc(out, func(a, b Analyzer) int {
		return rank(a) - rank(b)
	})
	return out
}

// Names returns the names of as.
func Names(as []Analyzer) []string {
	names := make([]string, len(as))
	for i, a := range as {
		names[i] = a.Name()
	}
	return names
}

// Settings builds the record settings for a set of analyzers.
func Settings(as []Analyzer, hashAlgorithm string) record.Settings {
	s := record.Settings{
		Analyzers:     Names(as),
		HashAlgorithm: hashAlgorithm,
	}
	for _, a := range as {
		if c, ok := a.(SettingsContributor); ok {
			c.ApplySettings(&s)
		}
	}
	return s
}

// Func adapts a function into an Analyzer.
type Func struct {
	AnalyzerName     string
	AnalyzerCategory retry.Category
	Fn               func(ctx context.Context, path string) (record.Payload, error)
}

// Name implements Analyzer.
func (f Func) Name() string { return f.AnalyzerName }

// Category implements Analyzer.
func (f Func) Category() retry.Category { return f.AnalyzerCategory }

// Analyze implements Analyzer.
func (f Func) Analyze(ctx context.Context, path string) (record.Payload, error) {
	return f.Fn(ctx, path)
}
