package logging

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/medtracker/medtracker/errors"
)

const stackSize = 5

// Middleware opens a logging scope for every request, recovers panics and
// writes one access log line once the handler returns. Fields tracked by the
// handler via Track are included on that line.
func Middleware(logger Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := With(r.Context(), logger.Named("http"))
		Track(ctx, "http.method", r.Method)
		Track(ctx, "http.path", r.URL.Path)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				Track(ctx, "error.panic", true)
				TrackError(ctx, errors.FromPanic(p, 2))
				if !rec.wroteHeader {
					http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}
			Track(ctx, "http.status", rec.status)
			Track(ctx, "http.duration", time.Since(start))
			if rec.status >= http.StatusInternalServerError {
				Error(ctx, "request failed")
			} else {
				Info(ctx, "request handled")
			}
		}()

		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// TrackError attaches error details to the current scope.
func TrackError(ctx context.Context, err error) {
	c, ok := ctx.Value(ctxkey{}).(*ctxkey)
	if !ok || err == nil {
		return
	}
	c.logger = c.logger.
		With("error", err.Error()).
		With("error.type", reflect.TypeOf(err).String()).
		With("error.http_status", errors.HTTPStatusCode(err))

	var e *errors.Error
	if errors.As(err, &e) {
		c.logger = c.logger.
			With("error.stack_trace", e.MinimalStack(0, stackSize)).
			With("error.original_type", e.TypeName())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
