package hasher

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 is a content identity, not a security boundary
	"crypto/sha1" //nolint:gosec // same as above
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ChunkSize is the read buffer size used while hashing.
const ChunkSize = 4096

// Algorithm names a fingerprint hash function.
type Algorithm string

// Supported algorithms.
const (
	MD5     Algorithm = "md5"
	SHA1    Algorithm = "sha1"
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b"
)

// Default is used when no algorithm is configured.
const Default = MD5

// Algorithms lists the supported algorithms.
func Algorithms() []Algorithm {
	return []Algorithm{MD5, SHA1, SHA256, BLAKE2b}
}

// ParseAlgorithm resolves a configured name. Empty input yields Default.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if a == "" {
		return Default, nil
	}
	if !slices.Contains(Algorithms(), a) {
		return "", fmt.Errorf("unsupported hash algorithm %q", s)
	}
	return a, nil
}

// New returns a fresh hash.Hash for a.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case MD5, "":
		return md5.New(), nil //nolint:gosec // content identity
	case SHA1:
		return sha1.New(), nil //nolint:gosec // content identity
	case SHA256:
		return sha256.New(), nil
	case BLAKE2b:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", string(a))
	}
}

// Sum is a computed fingerprint together with the number of bytes read.
type Sum struct {
	Fingerprint string
	Size        int64
}

// Reader fingerprints r. ctx is checked between chunks.
func (a Algorithm) Reader(ctx context.Context, r io.Reader) (Sum, error) {
	h, err := a.New()
	if err != nil {
		return Sum{}, err
	}

	buf := make([]byte, ChunkSize)
	var size int64
	for {
		if err := ctx.Err(); err != nil {
			return Sum{}, err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			size += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Sum{}, readErr
		}
	}
	return Sum{Fingerprint: hex.EncodeToString(h.Sum(nil)), Size: size}, nil
}

// File fingerprints the file at path. Open and read errors are returned
// unwrapped so callers can classify them (stale handle, missing file).
func (a Algorithm) File(ctx context.Context, path string) (Sum, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sum{}, err
	}
	defer func() { _ = f.Close() }()

	return a.Reader(ctx, f)
}
