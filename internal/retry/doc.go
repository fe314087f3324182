// Package retry provides the retry/backoff executor used around every
// analyzer call and around file hashing.
//
// Retry behaviour is data, not annotation: a [Policy] describes how many
// retries are allowed, the base delay, the backoff multiplier and which
// error kinds are worth retrying. Policies are grouped by [Category]
// (network, storage, upstream) so each class of failure can be tuned
// independently.
//
// Failures are classified into a [Kind] either explicitly with [Mark] or
// heuristically by [KindOf], which understands network timeouts, NFS stale
// file handles and filesystem path errors.
//
// The delay before retry n (zero based) is BaseDelay * Multiplier^n, so a
// policy of {MaxRetries: 3, BaseDelay: 1s, Multiplier: 2} makes at most four
// attempts, sleeping 1s, 2s and 4s between them.
package retry
