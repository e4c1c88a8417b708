package httpmw

import (
	"context"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type routeKey struct{}

// TrackRoute installs a route slot in the request context. Inner code names
// the route with SetRoute and outer middleware (metrics) reads it back with
// RouteFromContext after next returns. The slot is atomic because the
// request timeout runs the pipeline on its own goroutine.
func TrackRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(routeKey{}).(*atomic.Pointer[string]); ok {
			next.ServeHTTP(w, r)
			return
		}
		slot := new(atomic.Pointer[string])
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), routeKey{}, slot)))
	})
}

// SetRoute records the route (or stage) that answered the request and renames
// the active span to "METHOD route".
func SetRoute(r *http.Request, route string) {
	if route == "" {
		return
	}
	ctx := r.Context()
	if slot, ok := ctx.Value(routeKey{}).(*atomic.Pointer[string]); ok {
		slot.Store(&route)
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("http.route", route))
		span.SetName(r.Method + " " + route)
	}
}

// RouteFromContext returns the route set by SetRoute, or "" when none was set.
func RouteFromContext(ctx context.Context) string {
	slot, ok := ctx.Value(routeKey{}).(*atomic.Pointer[string])
	if !ok {
		return ""
	}
	if p := slot.Load(); p != nil {
		return *p
	}
	return ""
}
