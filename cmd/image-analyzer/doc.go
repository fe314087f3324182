// Command image-analyzer runs metadata, caption and vision-language
// analyzers over a directory of images and stores one JSON document per
// distinct image content, plus an optional SQLite catalog.
//
// # Usage
//
//	image-analyzer run -i ./Images -o ./Output
//	image-analyzer run --concurrency pool --workers 4 --analyzers metadata,caption
//	image-analyzer summarize -o ./Output
//	image-analyzer stats -o ./Output
//	image-analyzer forget -o ./Output ./Images/cat.jpg
//	image-analyzer clear -o ./Output --yes
//	image-analyzer version
//
// Every flag has an environment variable counterpart; see package startup.
//
// # Resume
//
// Images are identified by content fingerprint. A rerun skips every image
// whose stored record is complete, so an interrupted run can simply be
// started again. Use --force to reanalyze everything, or forget to drop
// individual records.
//
// # Exit Codes
//
//   - 0: every file completed (analyzer errors alone do not count)
//   - 1: at least one file failed, or the run was interrupted
//   - 2: configuration or startup error; no file was processed
//
// # Status Server
//
// With --metrics-addr the run serves /metrics (Prometheus), /healthz and
// /progress (JSON snapshot of the progress reporter) until it finishes.
//
// # Memory
//
// In a container, set MEMORY_LIMIT (bytes) and optionally MEMORY_RATIO so
// the run derives GOMEMLIMIT. With a limit in place, new files are held
// back while the heap is above 85% of it.
package main
