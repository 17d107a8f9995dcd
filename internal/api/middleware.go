package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware catches panics, funnels them into the report
// pipeline, and returns 500 Problem Details. Panic details are logged
// but never exposed to the client.
func RecoveryMiddleware(reporter PanicReporter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					stack := string(debug.Stack())
					slog.Error("panic recovered",
						"error", recovered,
						"stack", stack,
						"path", r.URL.Path,
						"method", r.Method,
					)
					if reporter != nil {
						reporter.ReportCritical("panic", "handler panic: "+r.URL.Path, stack, map[string]string{
							"method": r.Method,
						})
					}
					WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// PanicReporter receives faults caught at the outermost HTTP boundary.
type PanicReporter interface {
	ReportCritical(category, message, trace string, extra map[string]string)
}
