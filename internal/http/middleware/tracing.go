package middleware

import (
	"net/http"

	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/trace"
)

// TracingMiddleware opens a span per request, tagged with the request id
func TracingMiddleware(next http.Handler) http.Handler {
	tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if span := trace.FromContext(r.Context()); span != nil {
			span.AddAttributes(
				trace.StringAttribute("http.method", r.Method),
				trace.StringAttribute("http.path", r.URL.Path),
			)
			if requestID := RequestIDFromContext(r.Context()); requestID != "" {
				span.AddAttributes(trace.StringAttribute("http.request_id", requestID))
			}
		}

		next.ServeHTTP(&statusRecorder{ResponseWriter: w, r: r}, r)
	})

	return &ochttp.Handler{
		Handler: tagged,
		FormatSpanName: func(r *http.Request) string {
			return r.Method + " " + r.URL.Path
		},
		IsPublicEndpoint: true,
	}
}

// statusRecorder marks the span failed on 4xx and 5xx responses
type statusRecorder struct {
	http.ResponseWriter
	r *http.Request
}

func (sr *statusRecorder) WriteHeader(code int) {
	if span := trace.FromContext(sr.r.Context()); span != nil {
		span.AddAttributes(trace.Int64Attribute("http.status_code", int64(code)))
		if code >= 400 {
			span.SetStatus(trace.Status{
				Code:    trace.StatusCodeUnknown,
				Message: http.StatusText(code),
			})
		}
	}

	sr.ResponseWriter.WriteHeader(code)
}
