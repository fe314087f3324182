// Package analyzer defines the Analyzer contract and its implementations.
//
// An Analyzer turns one image file into a structured payload. The pipeline
// treats every analyzer as a black box: it calls Analyze under the retry
// policy of the analyzer's Category and records either the payload or the
// final error. Analyze is all-or-nothing; a partial result is reported as
// an error so a retry reruns the whole call.
//
// Three analyzers ship with the module:
//
//   - metadata: local decode of dimensions, format, colour model,
//     perceptual hashes and a base64 PNG thumbnail
//   - caption: an interrogator service queried once per configured mode
//   - vision_language: chat-style vision models (OpenAI-compatible or
//     Ollama) queried once per model and prompt
//
// Errors returned by the network analyzers are classified with
// retry.Mark so the executor can tell transient failures (transport,
// timeouts, 5xx, 429) from permanent ones (other 4xx).
package analyzer
