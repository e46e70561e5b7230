package logging

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// StatusRecorder remembers the status written through it.
type StatusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *StatusRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *StatusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *StatusRecorder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Flush keeps streaming responses working behind the recorder.
func (w *StatusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *StatusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware logs one line per request and turns handler panics into a 500.
// userHeader names the header carrying the acting user id. Handlers reach the
// request-scoped logger through zerolog.Ctx.
func Middleware(log zerolog.Logger, userHeader string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &StatusRecorder{ResponseWriter: w}
			start := time.Now()
			reqLog := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			r = r.WithContext(reqLog.WithContext(r.Context()))

			defer func() {
				ev := log.Info()
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					ev = log.Error().Str("panic", fmt.Sprint(p))
					if rec.status == 0 {
						rec.Header().Set("Content-Type", "application/json")
						rec.WriteHeader(http.StatusInternalServerError)
						_ = json.NewEncoder(rec).Encode(map[string]any{
							"error": map[string]any{"kind": "INTERNAL", "code": "INTERNAL", "message": "internal server error", "retryable": true},
						})
					}
				} else if rec.Status() >= http.StatusInternalServerError {
					ev = log.Warn()
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("user_id", r.Header.Get(userHeader)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", rec.Status()).
					Int("bytes", rec.bytes).
					Dur("duration", time.Since(start)).
					Msg("request completed")
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
