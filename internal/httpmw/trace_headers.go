package httpmw

import (
	"cmp"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTraceHeader = "X-Trace-Id"
	DefaultSpanHeader  = "X-Span-Id"
)

// TraceResponseHeaders echoes the active trace and span ids, and a W3C
// traceresponse header, so a client can quote them when reporting a problem.
// Requests without a valid span pass through untouched.
func TraceResponseHeaders(traceHeader, spanHeader string) func(http.Handler) http.Handler {
	traceHeader = cmp.Or(traceHeader, DefaultTraceHeader)
	spanHeader = cmp.Or(spanHeader, DefaultSpanHeader)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := trace.SpanContextFromContext(r.Context())
			if !sc.IsValid() {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set(traceHeader, sc.TraceID().String())
			h.Set(spanHeader, sc.SpanID().String())
			h.Set("Traceresponse", traceresponse(sc))
			next.ServeHTTP(w, r)
		})
	}
}

// traceresponse formats sc as version-traceid-spanid-flags.
func traceresponse(sc trace.SpanContext) string {
	return "00-" + sc.TraceID().String() + "-" + sc.SpanID().String() + "-" + sc.TraceFlags().String()
}
