package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ObserveFunc receives the outcome of every request, e.g. for metrics.
type ObserveFunc func(method, pattern string, status int, elapsed time.Duration)

// quietPaths are polled by health checkers and scrapers and logged at debug.
var quietPaths = map[string]bool{"/api/health": true, "/metrics": true}

// Logging logs one line per request and hands the outcome to observe. The
// route pattern, not the raw path, is passed to observe so label sets stay
// bounded.
func Logging(logger *slog.Logger, observe ObserveFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			status := rec.Status()
			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelWarn
			case quietPaths[r.URL.Path]:
				level = slog.LevelDebug
			}
			logger.LogAttrs(r.Context(), level, "http: request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", redactQuery(r.URL.Query())),
				slog.Int("status", status),
				slog.Int64("bytes", rec.bytes),
				slog.Duration("duration", elapsed),
				slog.String("remote_addr", r.RemoteAddr),
			)
			if observe != nil {
				observe(r.Method, routeLabel(r.Pattern), status, elapsed)
			}
		})
	}
}

// routeLabel strips the method from a ServeMux pattern such as
// "GET /api/positions".
func routeLabel(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}

// redactQuery hides the WebSocket api_key parameter.
func redactQuery(q url.Values) string {
	if q.Has("api_key") {
		q.Set("api_key", "***")
	}
	return q.Encode()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// Hijack lets WebSocket upgrades pass through.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: response writer cannot hijack")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
