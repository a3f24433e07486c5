package observability

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// statusRecorder captures the status code the admin API handlers write, so
// the middleware can label metrics with it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMetrics returns middleware that records per-request duration, a total
// counter, and an error counter (status >= 400) for the admin API, labelled
// with method, path, and status.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// handlers that never call WriteHeader implicitly send 200
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			attrs := otelmetric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", r.URL.Path),
				attribute.String("status", strconv.Itoa(rec.status)),
			)

			elapsed := float64(time.Since(start).Milliseconds())
			metrics.HTTPRequestDuration.Record(r.Context(), elapsed, attrs)
			metrics.HTTPRequestTotal.Add(r.Context(), 1, attrs)
			if rec.status >= 400 {
				metrics.HTTPRequestErrors.Add(r.Context(), 1, attrs)
			}
		})
	}
}
