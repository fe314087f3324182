package record

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s ends an attempt.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusComplete, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Payload is an analyzer's structured output.
type Payload map[string]any

// Result is one analyzer's outcome nested under a record.
type Result struct {
	Analyzer    string    `json:"analyzer"`
	Payload     Payload   `json:"-"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
	Attempts    int       `json:"attempt_count"`
}

// Succeeded reports whether the analyzer produced a payload.
func (r *Result) Succeeded() bool {
	return r != nil && r.Error == "" && r.Payload != nil
}

// ErrorEntry is one element of the persisted error list.
type ErrorEntry struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ErrorTypeFile marks a file-level error entry.
const ErrorTypeFile = "general"

// Settings captures the configuration a record was produced with.
type Settings struct {
	Analyzers     []string `json:"analyzers"`
	CaptionModel  string   `json:"caption_model,omitempty"`
	CaptionModes  []string `json:"caption_modes,omitempty"`
	VisionModels  []string `json:"vision_models,omitempty"`
	Prompts       []string `json:"prompts,omitempty"`
	HashAlgorithm string   `json:"hash_algorithm,omitempty"`
}

// Record is the persisted analysis of one distinct image content.
type Record struct {
	Fingerprint    string
	Filename       string
	Directory      string
	SizeBytes      int64
	CreatedAt      time.Time
	ProcessedAt    time.Time
	Status         Status
	Results        map[string]*Result
	Errors         []ErrorEntry
	ProcessingTime time.Duration
	Settings       Settings
	RunID          string
}

// Now returns the current UTC time at millisecond precision, the
// resolution both sinks persist.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// New creates a pending record for the file at path.
func New(fingerprint, path string, size int64, settings Settings) *Record {
	return &Record{
		Fingerprint: fingerprint,
		Filename:    filepath.Base(path),
		Directory:   filepath.ToSlash(filepath.Dir(path)),
		SizeBytes:   size,
		CreatedAt:   Now(),
		Status:      StatusPending,
		Results:     make(map[string]*Result),
		Settings:    settings,
	}
}

// Advance moves the record to next. Transitions that would regress within
// an attempt are rejected.
func (r *Record) Advance(next Status) error {
	if !next.Valid() {
		return fmt.Errorf("unknown status %q", next)
	}
	if r.Status.Terminal() || next.rank() < r.Status.rank() {
		return fmt.Errorf("invalid status transition %s -> %s", r.Status, next)
	}
	r.Status = next
	return nil
}

// SetResult attaches an analyzer outcome. A failed outcome also appends an
// error entry of the analyzer's type.
func (r *Record) SetResult(res *Result) {
	if r.Results == nil {
		r.Results = make(map[string]*Result)
	}
	r.Results[res.Analyzer] = res
	if res.Error != "" {
		r.Errors = append(r.Errors, ErrorEntry{Type: res.Analyzer, Error: res.Error})
	}
}

// AddFileError records a file-level error.
func (r *Record) AddFileError(err error) {
	r.Errors = append(r.Errors, ErrorEntry{Type: ErrorTypeFile, Error: err.Error()})
}

// HasFileError reports whether a file-level error was recorded.
func (r *Record) HasFileError() bool {
	return slices.ContainsFunc(r.Errors, func(e ErrorEntry) bool {
		return e.Type == ErrorTypeFile
	})
}

// Payload returns the payload produced by analyzer, or nil.
func (r *Record) Payload(analyzer string) Payload {
	if res, ok := r.Results[analyzer]; ok && res.Succeeded() {
		return res.Payload
	}
	return nil
}

// AnalyzerNames returns the analyzers with results, sorted.
func (r *Record) AnalyzerNames() []string {
	return slices.Sorted(maps.Keys(r.Results))
}

// Clone returns a deep-enough copy for handing to another goroutine.
func (r *Record) Clone() *Record {
	c := *r
	c.Results = make(map[string]*Result, len(r.Results))
	for k, v := range r.Results {
		res := *v
		res.Payload = maps.Clone(v.Payload)
		c.Results[k] = &res
	}
	c.Errors = slices.Clone(r.Errors)
	c.Settings.Analyzers = slices.Clone(r.Settings.Analyzers)
	c.Settings.CaptionModes = slices.Clone(r.Settings.CaptionModes)
	c.Settings.VisionModels = slices.Clone(r.Settings.VisionModels)
	c.Settings.Prompts = slices.Clone(r.Settings.Prompts)
	return &c
}
