package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// BarWidth is the number of cells in the rendered bar.
const BarWidth = 30

const (
	fullCell  = "█"
	emptyCell = "░"
	maxItem   = 30
)

// Snapshot is a consistent view of the reporter's state.
type Snapshot struct {
	Total          int           `json:"total"`
	Completed      int           `json:"completed"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	Pending        int           `json:"pending"`
	AnalyzerErrors int           `json:"analyzer_errors"`
	StartTime      time.Time     `json:"start_time"`
	Elapsed        time.Duration `json:"elapsed_ns"`
	Rate           float64       `json:"rate_per_second"`
	ETA            time.Duration `json:"eta_ns"`
	Percent        float64       `json:"percent"`
	CurrentItem    string        `json:"current_item,omitempty"`
	CurrentStep    string        `json:"current_step,omitempty"`
	Finished       bool          `json:"finished"`
}

// Processed returns Completed+Failed.
func (s Snapshot) Processed() int {
	return s.Completed + s.Failed
}

// Reporter is a synchronized progress tracker.
type Reporter struct {
	mu sync.Mutex

	total          int
	completed      int
	failed         int
	skipped        int
	analyzerErrors int
	start          time.Time
	currentItem    string
	currentStep    string
	finished       bool

	out         io.Writer
	interactive bool
	width       int
	now         func() time.Time
	minInterval time.Duration
	lastRender  time.Time
	onChange    func(Snapshot)
}

// Option customizes a Reporter.
type Option func(*Reporter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

// WithInteractive forces in-place (true) or line-per-update (false) output.
func WithInteractive(interactive bool) Option {
	return func(r *Reporter) {
		r.interactive = interactive
	}
}

// WithMinInterval throttles non-interactive renders. Zero renders every update.
func WithMinInterval(d time.Duration) Option {
	return func(r *Reporter) {
		r.minInterval = d
	}
}

// WithOnChange registers a callback invoked with every new snapshot while
// the reporter lock is held. It must not call back into the Reporter.
func WithOnChange(fn func(Snapshot)) Option {
	return func(r *Reporter) {
		r.onChange = fn
	}
}

// New creates a Reporter for total items writing to out. A nil out
// discards rendering.
func New(total int, out io.Writer, opts ...Option) *Reporter {
	if out == nil {
		out = io.Discard
	}
	r := &Reporter{
		total:       total,
		out:         out,
		now:         time.Now,
		minInterval: 2 * time.Second,
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.interactive = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			r.width = w
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.now()
	return r
}

// Update records one finished item.
func (r *Reporter) Update(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if success {
		r.completed++
	} else {
		r.failed++
	}
	r.changed(false)
}

// Skip records an item that needed no work. It counts as completed.
func (r *Reporter) Skip() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed++
	r.skipped++
	r.changed(false)
}

// AnalyzerError counts an analyzer failure that did not fail its file.
func (r *Reporter) AnalyzerError() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.analyzerErrors++
	r.changed(false)
}

// UpdateStatus sets the current item and step without counting anything.
func (r *Reporter) UpdateStatus(item, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item != "" {
		r.currentItem = item
	}
	r.currentStep = step
	r.changed(false)
}

// Finish renders the final state and a summary line.
func (r *Reporter) Finish() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finished = true
	r.currentItem = ""
	r.currentStep = ""
	r.changed(true)

	s := r.snapshotLocked()
	if r.interactive {
		fmt.Fprintln(r.out)
	}
	fmt.Fprintf(r.out, "Processed %s of %s items in %v (%.1f items/s)",
		humanize.Comma(int64(s.Processed())), humanize.Comma(int64(s.Total)),
		s.Elapsed.Round(100*time.Millisecond), s.Rate)
	if s.Skipped > 0 {
		fmt.Fprintf(r.out, ", %d unchanged", s.Skipped)
	}
	if s.Failed > 0 {
		fmt.Fprintf(r.out, ", %d failed", s.Failed)
	}
	if s.AnalyzerErrors > 0 {
		fmt.Fprintf(r.out, ", %d analyzer errors", s.AnalyzerErrors)
	}
	fmt.Fprintln(r.out)
	return s
}

// Snapshot returns the current state.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reporter) snapshotLocked() Snapshot {
	elapsed := r.now().Sub(r.start)
	processed := r.completed + r.failed

	var rate float64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(processed) / secs
	}
	pending := max(r.total-processed, 0)

	var eta time.Duration
	if rate > 0 {
		eta = time.Duration(float64(pending) / rate * float64(time.Second))
	}

	var percent float64
	if r.total > 0 {
		percent = float64(processed) / float64(r.total) * 100
	}

	return Snapshot{
		Total:          r.total,
		Completed:      r.completed,
		Failed:         r.failed,
		Skipped:        r.skipped,
		Pending:        pending,
		AnalyzerErrors: r.analyzerErrors,
		StartTime:      r.start,
		Elapsed:        elapsed,
		Rate:           rate,
		ETA:            eta,
		Percent:        percent,
		CurrentItem:    r.currentItem,
		CurrentStep:    r.currentStep,
		Finished:       r.finished,
	}
}

// changed notifies the callback and renders. Caller holds r.mu.
func (r *Reporter) changed(force bool) {
	s := r.snapshotLocked()
	if r.onChange != nil {
		r.onChange(s)
	}

	if !r.interactive && !force {
		now := r.now()
		if r.minInterval > 0 && !r.lastRender.IsZero() && now.Sub(r.lastRender) < r.minInterval &&
			s.Processed() < s.Total {
			return
		}
		r.lastRender = now
	}

	line := Render(s)
	if r.interactive {
		if r.width > 0 && len([]rune(line)) > r.width-1 {
			line = string([]rune(line)[:r.width-1])
		}
		fmt.Fprintf(r.out, "\r%s\x1b[K", line)
		return
	}
	fmt.Fprintln(r.out, line)
}

// Bar renders a BarWidth-cell bar for processed out of total.
func Bar(processed, total int) string {
	filled := 0
	if total > 0 {
		filled = BarWidth * min(processed, total) / total
	}
	return "[" + strings.Repeat(fullCell, filled) + strings.Repeat(emptyCell, BarWidth-filled) + "]"
}

// Render formats a snapshot as a single status line.
func Render(s Snapshot) string {
	var b strings.Builder
	b.WriteString(Bar(s.Processed(), s.Total))
	fmt.Fprintf(&b, " %d/%d (%.1f%%)", s.Processed(), s.Total, s.Percent)

	if s.CurrentItem != "" {
		item := filepath.Base(s.CurrentItem)
		if r := []rune(item); len(r) > maxItem {
			item = string(r[:maxItem-3]) + "..."
		}
		fmt.Fprintf(&b, " | '%s'", item)
	}
	if s.CurrentStep != "" {
		fmt.Fprintf(&b, " [%s]", s.CurrentStep)
	}

	fmt.Fprintf(&b, " | Failed: %d | Rate: %.1f/s", s.Failed, s.Rate)
	if s.Rate > 0 {
		fmt.Fprintf(&b, " | ETA: %s", formatETA(s.ETA))
	} else {
		b.WriteString(" | ETA: --")
	}
	return b.String()
}

func formatETA(d time.Duration) string {
	d = d.Round(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
