package pipeline

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/middleware-demo/internal/log"
)

type continuationKey struct{}

// continuation captures the request a middleware passed to next.
type continuation struct{ r *http.Request }

// FromMiddleware adapts a continuation-style middleware. Calling next yields
// Continue with the request next received; writing a response yields Respond.
// A middleware that does neither has stalled: it is logged and answered with
// 500 instead of leaving the client hanging.
func FromMiddleware(name string, mw func(http.Handler) http.Handler) Stage {
	h := mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if c, ok := r.Context().Value(continuationKey{}).(*continuation); ok {
			c.r = r
		}
	}))
	return Stage{Name: name, Run: func(ex *Exchange) Outcome {
		c := &continuation{}
		h.ServeHTTP(ex.W, ex.R.WithContext(context.WithValue(ex.R.Context(), continuationKey{}, c)))
		switch {
		case c.r != nil:
			ex.R = c.r
			return Continue
		case ex.Written():
			return Respond
		}
		ctx := ex.Context()
		log.FromContext(ctx).Error(ctx, errStalled(name), "stage stalled", "stage", name)
		http.Error(ex.W, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return Respond
	}}
}

// FromHandler adapts a terminal handler such as a chi router. The matched
// chi route pattern, if any, names the route.
func FromHandler(name string, h http.Handler) Stage {
	return Stage{Name: name, Run: func(ex *Exchange) Outcome {
		rctx := chi.NewRouteContext()
		r := ex.R.WithContext(context.WithValue(ex.R.Context(), chi.RouteCtxKey, rctx))
		h.ServeHTTP(ex.W, r)
		if pat := rctx.RoutePattern(); pat != "" {
			ex.SetRoute(pat)
		}
		if ex.Written() {
			return Respond
		}
		return Continue
	}}
}
