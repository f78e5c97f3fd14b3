package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware returns a chi-compatible middleware that opens a span per
// API request. Health probes and the dashboard WebSocket are excluded:
// probes fire every few seconds and say nothing, and the WebSocket is one
// connection that lives for hours.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithFilter(traceable),
			otelhttp.WithSpanNameFormatter(spanName),
		)
	}
}

func traceable(r *http.Request) bool {
	switch r.URL.Path {
	case "/health", "/ws":
		return false
	}
	return true
}

func spanName(_ string, r *http.Request) string {
	return r.Method + " " + r.URL.Path
}
