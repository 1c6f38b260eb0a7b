package httpview

import (
	"net/http"
	"time"

	"github.com/platinummonkey/boringtable/pkg/httputil"
	"github.com/platinummonkey/boringtable/pkg/observability"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// logging attaches a request logger to the context and logs each request.
func (h *Handler[T]) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := observability.WithLogger(r.Context(), h.log)
		logger := observability.LoggerWithTraceContext(ctx, observability.FromContext(ctx))
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r.WithContext(ctx))

		logger.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request completed")
	})
}

func (h *Handler[T]) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer observability.RecoverPanicWithCallback(observability.FromContext(r.Context()), r.URL.Path, func(recovered interface{}) {
			httputil.WriteError(w, http.StatusInternalServerError, observability.PanicError(recovered))
		})
		next.ServeHTTP(w, r)
	})
}
