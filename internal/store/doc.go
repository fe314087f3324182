// Package store provides the dual-sink record store.
//
// Every record is written to two independent backends keyed by content
// fingerprint:
//   - [JSONSink]: one JSON document per image in the output directory,
//     written atomically (temp file, fsync, rename). This sink is
//     authoritative: resume decisions are made from it and a failed write
//     fails the file.
//   - [Catalog]: a SQLite table with one row per fingerprint and JSON
//     columns for nested data. This sink is advisory: a failed write is
//     logged and swallowed.
//
// [Store] fans out upserts to both sinks under a single lock, so callers
// never need external synchronization and both sinks observe the same
// order of writes.
package store
