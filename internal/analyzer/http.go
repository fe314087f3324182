package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"image-analyzer/internal/retry"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// StatusError is a non-2xx response from an analyzer service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s: http %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Service, e.StatusCode, body)
}

// errorEntry is the payload entry stored for one failed request of a
// multi-request analyzer.
func errorEntry(err error) map[string]any {
	return map[string]any{
		"status":     "error",
		"message":    err.Error(),
		"error_kind": string(retry.KindOf(err)),
	}
}

// statusKind classifies an HTTP status code.
func statusKind(code int) retry.Kind {
	switch {
	case code == http.StatusTooManyRequests, code >= 500:
		return retry.KindUpstream
	case code == http.StatusRequestTimeout:
		return retry.KindTimeout
	default:
		return retry.KindRejected
	}
}

// postJSON sends body as JSON and decodes a 2xx response into out. Errors
// are classified for the retry executor.
func postJSON(ctx context.Context, client *http.Client, service, url string, headers http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", service, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return retry.Mark(retry.KindRejected, fmt.Errorf("%s: creating request: %w", service, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{Service: service, StatusCode: resp.StatusCode, Body: string(snippet)}
		return retry.Mark(statusKind(resp.StatusCode), statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return retry.Mark(retry.KindMalformed, fmt.Errorf("%s: decoding response: %w", service, err))
	}
	return nil
}

// readBase64 loads the file at path and base64-encodes it. Read errors are
// returned as-is so they classify as file errors.
func readBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
