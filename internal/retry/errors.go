package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"syscall"
)

// Kind classifies a failure for retry decisions and error reporting.
type Kind string

const (
	// KindTransport is a connection-level failure (refused, reset, DNS).
	KindTransport Kind = "transport"
	// KindTimeout is a request or dial timeout.
	KindTimeout Kind = "timeout"
	// KindUpstream is an upstream service error (5xx, 429).
	KindUpstream Kind = "upstream"
	// KindRejected is a request the upstream refused as invalid (4xx).
	KindRejected Kind = "rejected"
	// KindMalformed is a response that could not be decoded.
	KindMalformed Kind = "malformed"
	// KindFileIO is a local file that could not be read.
	KindFileIO Kind = "file_io"
	// KindStale is an NFS stale file handle (ESTALE).
	KindStale Kind = "stale_handle"
	// KindCanceled is a canceled or expired context.
	KindCanceled Kind = "canceled"
	// KindUnknown is anything unclassified.
	KindUnknown Kind = "unknown"
)

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Mark tags err with kind. A nil err stays nil.
func Mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the classification of err. Explicit marks take
// precedence over the heuristics.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var marked *Error
	if errors.As(err, &marked) {
		return marked.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	// Check for ESTALE (stale file handle) - errno 116 on Linux
	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.ESTALE {
		return KindStale
	}

	// url.Error satisfies net.Error whatever it wraps, so only its cause counts.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return KindTimeout
		}
		if errors.Is(urlErr.Err, io.EOF) || errors.Is(urlErr.Err, io.ErrUnexpectedEOF) {
			return KindTransport
		}
		return KindOf(urlErr.Err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransport
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindFileIO
	}

	return KindUnknown
}

// ExhaustedError is returned once a retryable failure outlived its policy.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
