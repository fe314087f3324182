package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"image-analyzer/internal/analyzer"
	"image-analyzer/internal/record"
	"image-analyzer/internal/retry"
	"image-analyzer/internal/runenv"
	"image-analyzer/internal/scanner"
)

func newTestProcessor(st RecordStore, force bool, as ...analyzer.Analyzer) *Processor {
	env := runenv.ForTest()
	return NewProcessor(env, st, ProcessorConfig{
		Analyzers:      as,
		Executor:       retry.NewExecutor(nil, retry.WithSleeper(noSleep)),
		ForceReprocess: force,
	})
}

func sourceFile(t *testing.T, name, content string) scanner.SourceFile {
	t.Helper()
	dir := t.TempDir()
	writeImages(t, dir, map[string]string{name: content})
	path := filepath.Join(dir, name)
	return scanner.SourceFile{AbsPath: path, Dir: dir, RelPath: name, Size: int64(len(content))}
}

func TestProcessPersistsProcessingThenFinal(t *testing.T) {
	t.Parallel()

	st := newMemoryStore()
	meta := newCounting(analyzer.Metadata)
	p := newTestProcessor(st, false, meta)

	out := p.Process(context.Background(), sourceFile(t, "a.jpg", "alpha"))
	if out.Result != ResultComplete {
		t.Fatalf("Result = %s (%v), want complete", out.Result, out.Err)
	}

	want := []record.Status{record.StatusProcessing, record.StatusComplete}
	if !slices.Equal(st.history, want) {
		t.Errorf("upsert history = %v, want %v", st.history, want)
	}

	rec := st.get(out.Fingerprint)
	if rec == nil {
		t.Fatal("record not stored")
	}
	if rec.ProcessedAt.IsZero() {
		t.Error("ProcessedAt not set")
	}
	if rec.Payload(analyzer.Metadata)["source"] != "a.jpg" {
		t.Errorf("metadata payload = %v", rec.Payload(analyzer.Metadata))
	}
	if rec.RunID == "" {
		t.Error("RunID not stamped")
	}
}

func TestProcessMissingFile(t *testing.T) {
	t.Parallel()

	st := newMemoryStore()
	meta := newCounting(analyzer.Metadata)
	p := newTestProcessor(st, false, meta)

	out := p.Process(context.Background(), scanner.SourceFile{AbsPath: filepath.Join(t.TempDir(), "gone.jpg")})
	if out.Result != ResultFailed || out.Err == nil {
		t.Fatalf("Result = %s, Err = %v; want failed with error", out.Result, out.Err)
	}
	if st.len() != 0 {
		t.Errorf("stored %d records for an unhashable file", st.len())
	}
	if meta.calls.Load() != 0 {
		t.Errorf("analyzer called %d times", meta.calls.Load())
	}
}

func TestProcessAnalyzerErrorIsIsolated(t *testing.T) {
	t.Parallel()

	st := newMemoryStore()
	meta := newCounting(analyzer.Metadata)
	caption := newCounting(analyzer.Caption)
	caption.fail = func(string, int64) error {
		return retry.Mark(retry.KindRejected, errors.New("bad request"))
	}
	p := newTestProcessor(st, false, caption, meta)

	out := p.Process(context.Background(), sourceFile(t, "a.jpg", "alpha"))
	if out.Result != ResultComplete {
		t.Fatalf("Result = %s, want complete", out.Result)
	}
	if _, ok := out.AnalyzerErrors[analyzer.Caption]; !ok {
		t.Errorf("AnalyzerErrors = %v, want caption entry", out.AnalyzerErrors)
	}

	rec := st.get(out.Fingerprint)
	if rec.Status != record.StatusComplete {
		t.Errorf("Status = %s, want complete", rec.Status)
	}
	if len(rec.Errors) != 1 || rec.Errors[0].Type != analyzer.Caption {
		t.Errorf("Errors = %+v, want one caption entry", rec.Errors)
	}
	if rec.Payload(analyzer.Metadata) == nil {
		t.Error("metadata payload lost after caption failure")
	}
	if got := rec.Results[analyzer.Caption].ErrorKind; got != string(retry.KindRejected) {
		t.Errorf("ErrorKind = %q, want rejected", got)
	}
	if caption.calls.Load() != 1 {
		t.Errorf("rejected call retried: %d calls", caption.calls.Load())
	}
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	st := newMemoryStore()
	caption := newCounting(analyzer.Caption)
	caption.category = retry.CategoryNetwork
	caption.fail = func(_ string, call int64) error {
		if call <= 2 {
			return retry.Mark(retry.KindTransport, errBoom)
		}
		return nil
	}
	p := newTestProcessor(st, false, caption)

	out := p.Process(context.Background(), sourceFile(t, "a.jpg", "alpha"))
	if out.Result != ResultComplete || len(out.AnalyzerErrors) != 0 {
		t.Fatalf("outcome = %+v, want clean complete", out)
	}

	rec := st.get(out.Fingerprint)
	if len(rec.Errors) != 0 {
		t.Errorf("Errors = %+v, want none", rec.Errors)
	}
	if got := rec.Results[analyzer.Caption].Attempts; got != 3 {
		t.Errorf("Attempts = %d, want 3", got)
	}
}

func TestProcessExhaustedRetriesRecorded(t *testing.T) {
	t.Parallel()

	st := newMemoryStore()
	vlm := newCounting(analyzer.VisionLanguage)
	vlm.category = retry.CategoryUpstream
	vlm.fail = func(string, int64) error {
		return retry.Mark(retry.KindUpstream, errBoom)
	}
	p := newTestProcessor(st, false, vlm)

	out := p.Process(context.Background(), sourceFile(t, "a.jpg", "alpha"))
	if out.Result != ResultComplete {
		t.Fatalf("Result = %s, want complete", out.Result)
	}
	if got := vlm.calls.Load(); got != 4 {
		t.Errorf("calls = %d, want 4 (1 + 3 retries)", got)
	}
	rec := st.get(out.Fingerprint)
	if rec.Results[analyzer.VisionLanguage].Succeeded() {
		t.Error("exhausted analyzer reported success")
	}
}

func TestProcessFileErrorStopsAnalyzers(t *testing.T) {
	t.Parallel()

	st := newMemoryStore()
	meta := newCounting(analyzer.Metadata)
	meta.fail = func(path string, _ int64) error {
		_, err := os.Open(path + ".missing")
		return err
	}
	caption := newCounting(analyzer.Caption)
	p := newTestProcessor(st, false, meta, caption)

	out := p.Process(context.Background(), sourceFile(t, "a.jpg", "alpha"))
	if out.Result != ResultFailed {
		t.Fatalf("Result = %s, want failed", out.Result)
	}
	if caption.calls.Load() != 0 {
		t.Errorf("caption ran %d times after a file error", caption.calls.Load())
	}
	rec := st.get(out.Fingerprint)
	if rec.Status != record.StatusFailed || !rec.HasFileError() {
		t.Errorf("record = %s with errors %+v, want failed with file error", rec.Status, rec.Errors)
	}
}

func TestProcessCancellationLeavesProcessing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newMemoryStore()
	meta := newCounting(analyzer.Metadata)
	meta.fail = func(string, int64) error {
		cancel()
		return context.Canceled
	}
	p := newTestProcessor(st, false, meta)

	out := p.Process(ctx, sourceFile(t, "a.jpg", "alpha"))
	if out.Result != ResultFailed {
		t.Fatalf("Result = %s, want failed", out.Result)
	}
	rec := st.get(out.Fingerprint)
	if rec == nil || rec.Status != record.StatusProcessing {
		t.Fatalf("record = %+v, want status processing", rec)
	}
}

func TestProcessRecoversPanic(t *testing.T) {
	t.Parallel()

	st := newMemoryStore()
	bad := analyzer.Func{
		AnalyzerName:     analyzer.Metadata,
		AnalyzerCategory: retry.CategoryStorage,
		Fn: func(context.Context, string) (record.Payload, error) {
			panic("decoder exploded")
		},
	}
	p := newTestProcessor(st, false, bad)

	out := p.Process(context.Background(), sourceFile(t, "a.jpg", "alpha"))
	if out.Result != ResultFailed || out.Err == nil {
		t.Fatalf("outcome = %+v, want failed with error", out)
	}
}

func TestProcessPrimaryStoreFailure(t *testing.T) {
	t.Parallel()

	st := newMemoryStore()
	st.failPut = errors.New("disk full")
	meta := newCounting(analyzer.Metadata)
	p := newTestProcessor(st, false, meta)

	out := p.Process(context.Background(), sourceFile(t, "a.jpg", "alpha"))
	if out.Result != ResultFailed {
		t.Fatalf("Result = %s, want failed", out.Result)
	}
	if meta.calls.Load() != 0 {
		t.Errorf("analyzers ran although the processing record could not be stored")
	}
}

func TestProcessSkipAndForce(t *testing.T) {
	t.Parallel()

	st := newMemoryStore()
	meta := newCounting(analyzer.Metadata)
	f := sourceFile(t, "a.jpg", "alpha")

	if out := newTestProcessor(st, false, meta).Process(context.Background(), f); out.Result != ResultComplete {
		t.Fatalf("first pass = %s", out.Result)
	}
	if out := newTestProcessor(st, false, meta).Process(context.Background(), f); out.Result != ResultSkipped {
		t.Errorf("second pass = %s, want skipped", out.Result)
	}
	if meta.calls.Load() != 1 {
		t.Errorf("calls after skip = %d, want 1", meta.calls.Load())
	}
	if out := newTestProcessor(st, true, meta).Process(context.Background(), f); out.Result != ResultComplete {
		t.Errorf("forced pass = %s, want complete", out.Result)
	}
	if meta.calls.Load() != 2 {
		t.Errorf("calls after force = %d, want 2", meta.calls.Load())
	}
}

func TestProcessConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	files := make([]scanner.SourceFile, 8)
	contents := make(map[string]string)
	for i := range files {
		name := string(rune('a'+i)) + ".jpg"
		contents[name] = "same bytes"
		files[i] = scanner.SourceFile{AbsPath: filepath.Join(dir, name)}
	}
	writeImages(t, dir, contents)

	st := newMemoryStore()
	meta := newCounting(analyzer.Metadata)
	p := newTestProcessor(st, false, meta)

	var mu sync.Mutex
	var outcomes []Outcome
	(&Pool{MaxWorkers: 8}).Run(context.Background(), files, func(ctx context.Context, f scanner.SourceFile) {
		out := p.Process(ctx, f)
		mu.Lock()
		outcomes = append(outcomes, out)
		mu.Unlock()
	})

	if got := meta.calls.Load(); got != 1 {
		t.Errorf("analyzer calls = %d, want 1", got)
	}
	if st.len() != 1 {
		t.Errorf("records = %d, want 1", st.len())
	}
	for _, o := range outcomes {
		if !o.Succeeded() {
			t.Errorf("%s: %s (%v)", o.File.AbsPath, o.Result, o.Err)
		}
	}
}
