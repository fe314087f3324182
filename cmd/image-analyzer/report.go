package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"image-analyzer/internal/pipeline"
	"image-analyzer/internal/record"
)

// maxReportedFailures bounds the failure table; the rest are in the log.
const maxReportedFailures = 20

func printReport(w io.Writer, res pipeline.BatchResult) {
	rows := [][]string{
		{"Files found", humanize.Comma(int64(res.Total))},
		{"Completed", humanize.Comma(int64(res.Completed))},
		{"  unchanged (skipped)", humanize.Comma(int64(res.Skipped))},
		{"Failed", humanize.Comma(int64(res.Failed))},
		{"Analyzer errors", humanize.Comma(int64(res.TotalAnalyzerErrors()))},
		{"Elapsed", res.Duration.Round(10 * time.Millisecond).String()},
	}
	if res.Progress.Rate > 0 {
		rows = append(rows, []string{"Rate", fmt.Sprintf("%.2f files/s", res.Progress.Rate)})
	}
	if res.Interrupted {
		rows = append(rows, []string{"Interrupted", "yes"})
	}
	fmt.Fprintln(w, renderTable("Run "+res.RunID, []string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(res.AnalyzerErrors) > 0 {
		fmt.Fprintln(w, renderTable("Analyzer errors", []string{"Analyzer", "Files"},
			countRows(res.AnalyzerErrors), []columnAlignment{alignLeft, alignRight}))
	}
	if len(res.Summaries) > 0 {
		fmt.Fprintln(w, renderTable("Summaries", []string{"Kind", "Entries"},
			countRows(res.Summaries), []columnAlignment{alignLeft, alignRight}))
	}

	if len(res.Failures) > 0 {
		failures := res.Failures
		if len(failures) > maxReportedFailures {
			failures = failures[:maxReportedFailures]
		}
		rows := make([][]string, 0, len(failures))
		for _, f := range failures {
			rows = append(rows, []string{f.Path, f.Error})
		}
		fmt.Fprintln(w, renderTable("Failed files", []string{"File", "Error"}, rows, nil))
		if extra := len(res.Failures) - len(failures); extra > 0 {
			fmt.Fprintf(w, "... and %d more (see log)\n", extra)
		}
	}
}

func countRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		rows = append(rows, []string{k, strconv.Itoa(counts[k])})
	}
	return rows
}

func statusRows(stats map[record.Status]int) [][]string {
	order := []record.Status{record.StatusPending, record.StatusProcessing, record.StatusComplete, record.StatusFailed}
	rows := make([][]string, 0, len(order)+1)
	total := 0
	for _, s := range order {
		rows = append(rows, []string{string(s), humanize.Comma(int64(stats[s]))})
		total += stats[s]
	}
	rows = append(rows, []string{"total", humanize.Comma(int64(total))})
	return rows
}
