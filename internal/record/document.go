package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is the on-disk JSON layout of a record.
type Document struct {
	FileInfo       FileInfo           `json:"file_info"`
	Analysis       map[string]Payload `json:"analysis"`
	ProcessingInfo ProcessingInfo     `json:"processing_info"`
}

// FileInfo describes the source file.
type FileInfo struct {
	Filename      string    `json:"filename"`
	Directory     string    `json:"directory"`
	DateAdded     time.Time `json:"date_added"`
	DateProcessed time.Time `json:"date_processed"`
	MD5           string    `json:"md5"`
	FileSize      int64     `json:"file_size"`
}

// ProcessingInfo describes how the record was produced.
type ProcessingInfo struct {
	ProcessingTime float64            `json:"processing_time"`
	Status         Status             `json:"status"`
	Errors         []ErrorEntry       `json:"errors"`
	Analyzers      map[string]*Result `json:"analyzers,omitempty"`
	ConfigUsed     Settings           `json:"config_used"`
	RunID          string             `json:"run_id,omitempty"`
}

// ToDocument converts r into its JSON layout. Every configured analyzer
// appears under analysis, with an empty object when it produced nothing.
func (r *Record) ToDocument() Document {
	analysis := make(map[string]Payload, len(r.Settings.Analyzers))
	for _, name := range r.Settings.Analyzers {
		analysis[name] = Payload{}
	}
	for name, res := range r.Results {
		if res.Succeeded() {
			analysis[name] = res.Payload
		} else if _, ok := analysis[name]; !ok {
			analysis[name] = Payload{}
		}
	}

	errs := r.Errors
	if errs == nil {
		errs = []ErrorEntry{}
	}

	return Document{
		FileInfo: FileInfo{
			Filename:      r.Filename,
			Directory:     r.Directory,
			DateAdded:     r.CreatedAt,
			DateProcessed: r.ProcessedAt,
			MD5:           r.Fingerprint,
			FileSize:      r.SizeBytes,
		},
		Analysis: analysis,
		ProcessingInfo: ProcessingInfo{
			ProcessingTime: r.ProcessingTime.Seconds(),
			Status:         r.Status,
			Errors:         errs,
			Analyzers:      r.Results,
			ConfigUsed:     r.Settings,
			RunID:          r.RunID,
		},
	}
}

// FromDocument rebuilds a record from its JSON layout.
func FromDocument(d Document) (*Record, error) {
	if d.FileInfo.MD5 == "" {
		return nil, fmt.Errorf("document for %q has no fingerprint", d.FileInfo.Filename)
	}
	if !d.ProcessingInfo.Status.Valid() {
		return nil, fmt.Errorf("document for %q has unknown status %q", d.FileInfo.Filename, d.ProcessingInfo.Status)
	}

	r := &Record{
		Fingerprint:    d.FileInfo.MD5,
		Filename:       d.FileInfo.Filename,
		Directory:      d.FileInfo.Directory,
		SizeBytes:      d.FileInfo.FileSize,
		CreatedAt:      d.FileInfo.DateAdded,
		ProcessedAt:    d.FileInfo.DateProcessed,
		Status:         d.ProcessingInfo.Status,
		Results:        make(map[string]*Result, len(d.ProcessingInfo.Analyzers)),
		ProcessingTime: time.Duration(d.ProcessingInfo.ProcessingTime * float64(time.Second)).Round(time.Microsecond),
		Settings:       d.ProcessingInfo.ConfigUsed,
		RunID:          d.ProcessingInfo.RunID,
	}
	if len(d.ProcessingInfo.Errors) > 0 {
		r.Errors = d.ProcessingInfo.Errors
	}
	for name, res := range d.ProcessingInfo.Analyzers {
		if res == nil {
			continue
		}
		res.Analyzer = name
		if payload, ok := d.Analysis[name]; ok && res.Error == "" {
			res.Payload = payload
		}
		r.Results[name] = res
	}
	return r, nil
}

// MarshalJSON encodes r as a Document.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToDocument())
}

// UnmarshalJSON decodes a Document into r.
func (r *Record) UnmarshalJSON(data []byte) error {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	decoded, err := FromDocument(d)
	if err != nil {
		return err
	}
	*r = *decoded
	return nil
}
