package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContentInfo describes the static content currently served.
type ContentInfo interface {
	ContentVersion() string
	ContentHash() string
}

// ContentHeaders adds X-Content-Bundle-Version and a short X-Content-Hash
// when the static stage is serving a pinned bundle.
func ContentHeaders(info ContentInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, h := info.ContentVersion(), info.ContentHash()
			if v != "" {
				w.Header().Set("X-Content-Bundle-Version", v)
			}
			if h != "" {
				w.Header().Set("X-Content-Hash", shortHash(h))
			}
			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				if v != "" {
					span.SetAttributes(attribute.String("content.version", v))
				}
				if h != "" {
					span.SetAttributes(attribute.String("content.hash", h))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
