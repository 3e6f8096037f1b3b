// Package middleware wraps the anchorstream router with request logging and
// panic recovery. Both are stream-aware: they never buffer a response and
// they forward Flush to the underlying writer.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/anchorstream/internal/codec"
	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
	"git.home.luguber.info/inful/anchorstream/internal/logfields"
	"git.home.luguber.info/inful/anchorstream/internal/observability"
)

// Chain returns the logging and recovery wrapper. Requests whose path has
// one of the quiet prefixes (health checks, metrics scrapes) log at debug.
func Chain(logger *slog.Logger, adapter *ferrors.HTTPErrorAdapter, quiet ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return logRequests(logger, quiet, recoverPanics(logger, adapter, next))
	}
}

func logRequests(logger *slog.Logger, quiet []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := chimw.GetReqID(r.Context())
		if reqID != "" {
			r = r.WithContext(observability.WithRequestID(r.Context(), reqID))
		}
		sw := &streamWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		for _, prefix := range quiet {
			if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
				level = slog.LevelDebug
				break
			}
		}
		attrs := []slog.Attr{
			logfields.Method(r.Method),
			logfields.Path(r.URL.Path),
			logfields.Status(sw.status),
			logfields.DurationMS(float64(time.Since(start).Microseconds()) / 1000),
			slog.Int64("bytes", sw.bytes),
			slog.Int("flushes", sw.flushes),
			logfields.UserAgent(r.UserAgent()),
			logfields.RemoteAddr(r.RemoteAddr),
			logfields.RequestID(reqID),
		}
		if id := sw.Header().Get(codec.HeaderTransitionID); id != "" {
			attrs = append(attrs, logfields.TransitionID(id))
		}
		logger.LogAttrs(r.Context(), level, "HTTP request", attrs...)
	})
}

// recoverPanics turns a handler panic into a JSON 500. Once a transition
// stream has started the status line is gone, so the connection is only
// ended.
func recoverPanics(logger *slog.Logger, adapter *ferrors.HTTPErrorAdapter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.ErrorContext(r.Context(), "HTTP handler panic",
				logfields.Error(fmt.Errorf("panic: %v", rec)),
				logfields.Method(r.Method),
				logfields.Path(r.URL.Path),
				logfields.RemoteAddr(r.RemoteAddr))

			if sw, ok := w.(*streamWriter); ok && sw.started {
				return
			}
			adapter.WriteErrorResponse(w, r, ferrors.InternalError("internal server error").
				WithContext("path", r.URL.Path).
				Build())
		}()
		next.ServeHTTP(w, r)
	})
}

// streamWriter records what was sent for the access log.
type streamWriter struct {
	http.ResponseWriter
	status  int
	bytes   int64
	flushes int
	started bool
}

func (sw *streamWriter) WriteHeader(code int) {
	if !sw.started {
		sw.status = code
		sw.started = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *streamWriter) Write(b []byte) (int, error) {
	sw.started = true
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (sw *streamWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		sw.started = true
		sw.flushes++
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sw *streamWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
