package middleware

import (
	"net/http"
	"strings"
	"time"

	"image-analyzer/internal/logging"
)

// Logger logs one line per request at debug level. Scrapes of /metrics
// and /healthz are frequent, so they are only logged when they fail.
func Logger(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !log.IsDebugEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			if quietPaths[r.URL.Path] && rw.statusCode < http.StatusBadRequest {
				return
			}
			log.Debug("HTTP %s %s %d %dB %s %s",
				sanitizeLogField(r.Method),
				sanitizeLogField(r.URL.Path),
				rw.statusCode,
				rw.bytesWritten,
				time.Since(start).Round(time.Microsecond),
				sanitizeLogField(r.RemoteAddr))
		})
	}
}

var quietPaths = map[string]bool{
	"/metrics": true,
	"/healthz": true,
}

// sanitizeLogField strips control characters so a request cannot forge
// log lines or inject terminal escapes.
func sanitizeLogField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteRune(' ')
		case r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
