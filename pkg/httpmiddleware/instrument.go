package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrument returns a middleware that records OpenTelemetry traces and
// metrics for every request under the given service operation name. On top of
// the standard otelhttp instrumentation it counts requests and measures
// latency per method and status code, and marks the server span as errored
// on 5xx responses.
func Instrument(operation string, m *app.Telemetry) Middleware {
	meter := m.MeterProvider().Meter("httpmiddleware")
	requests, _ := meter.Int64Counter("http.server.request_count",
		metric.WithDescription("Number of handled HTTP requests"),
	)
	latency, _ := meter.Float64Histogram("http.server.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("HTTP request handling duration"),
	)

	return func(next http.Handler) http.Handler {
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			attrs := metric.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.Int("http.status_code", rec.status),
			)
			requests.Add(r.Context(), 1, attrs)
			latency.Record(r.Context(), float64(time.Since(start))/float64(time.Millisecond), attrs)

			if rec.status >= http.StatusInternalServerError {
				trace.SpanFromContext(r.Context()).SetStatus(codes.Error, http.StatusText(rec.status))
			}
		})
		return otelhttp.NewHandler(inner, operation,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		)
	}
}
