// Package progress tracks batch progress and renders it as a text bar.
//
// A Reporter is shared by every worker. All counters and the current
// item/step live behind one mutex, and each mutation renders while still
// holding it, so concurrent workers never interleave partial lines or
// observe a snapshot where completed+failed+pending differs from total.
//
// On a terminal the bar is redrawn in place with a carriage return; when
// output is redirected each render is a separate line, throttled so logs
// are not flooded.
package progress
