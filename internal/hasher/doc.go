// Package hasher computes content fingerprints for image files.
//
// A fingerprint is the lowercase hex digest of a file's bytes, read in
// fixed-size chunks so memory stays bounded regardless of file size. The
// default algorithm is MD5, which matches the "md5" key in persisted
// documents; SHA-1, SHA-256 and BLAKE2b-256 are available for deployments
// that want a stronger identity.
package hasher
