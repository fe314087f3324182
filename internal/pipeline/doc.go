// Package pipeline runs a batch: scan, fingerprint, gate, analyze,
// persist, summarize.
//
// # Per-file flow
//
// Each discovered file is fingerprinted, then the Gate decides whether the
// record already stored for that fingerprint can be reused. Files that need
// work get a record persisted at status processing, are passed through
// every enabled analyzer under its retry policy, and are finalized as
// complete (analyzer errors alone never fail a file) or failed (the file
// itself could not be read or its document could not be written).
//
// A record left at processing by an interrupted run is not trusted; the
// Gate sends it through the analyzers again.
//
// # Scheduling
//
// Sequential runs files one by one in discovery order. Pool runs up to
// min(max workers, files) at once on an errgroup with a limit. Workers
// share only the record store and the progress reporter, both internally
// synchronized. Files with identical content that are in flight at the
// same time are collapsed with singleflight so the analyzers run once.
//
// Options.Throttle, when set, is consulted before each file is dispatched;
// the run command passes the heap monitor from package memory.
//
// # Summaries
//
// After the batch, one roll-up document per analyzer kind collects that
// analyzer's payload from every record.
package pipeline
