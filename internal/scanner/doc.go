// Package scanner discovers the image files a batch will process.
//
// The walk is recursive, skips hidden files and directories, keeps only
// files whose extension is in the configured allow-list and drops paths
// that match any exclude glob. Globs use doublestar syntax and are matched
// against the slash-separated path relative to the root, so "**/raw/**"
// excludes every raw directory at any depth.
//
// Results are returned in lexical walk order, which is the discovery order
// the sequential scheduler preserves.
package scanner
