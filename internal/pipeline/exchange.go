package pipeline

import (
	"context"
	"net/http"
	"time"
)

// Exchange is the state one request carries through the stages.
type Exchange struct {
	// W is the response writer stages write to. It records status and size.
	W http.ResponseWriter
	// R is the current request. Stages may replace it to extend its context.
	R *http.Request

	rw    *responseWriter
	start time.Time
	hooks []func(*Exchange)
	route string
	done  bool
}

func newExchange(w http.ResponseWriter, r *http.Request) *Exchange {
	start := time.Now()
	rw := newResponseWriter(w, r.Context(), start)
	return &Exchange{W: rw, R: r, rw: rw, start: start}
}

// Context is shorthand for ex.R.Context().
func (ex *Exchange) Context() context.Context { return ex.R.Context() }

// Written reports whether a final status has been sent.
func (ex *Exchange) Written() bool { return ex.rw.wroteHeader }

// Status is the response status, or 0 when nothing has been written.
func (ex *Exchange) Status() int { return ex.rw.status }

// BytesWritten is the number of body bytes written so far.
func (ex *Exchange) BytesWritten() int64 { return ex.rw.bytes }

// Duration is the time since the pipeline received the request.
func (ex *Exchange) Duration() time.Duration { return time.Since(ex.start) }

// OnComplete registers fn to run once after the chain ends, whatever stage
// answered. Hooks run in reverse registration order.
func (ex *Exchange) OnComplete(fn func(*Exchange)) {
	if fn != nil {
		ex.hooks = append(ex.hooks, fn)
	}
}

// SetRoute names the route that answered, overriding the stage name.
func (ex *Exchange) SetRoute(route string) { ex.route = route }

func (ex *Exchange) complete() {
	if ex.done {
		return
	}
	ex.done = true
	ex.rw.endSpan()
	for i := len(ex.hooks) - 1; i >= 0; i-- {
		ex.hooks[i](ex)
	}
}

type bodyKey struct{}

type parsedBody struct{ v any }

// SetBody stores a parsed request body for later stages and handlers.
func (ex *Exchange) SetBody(v any) {
	ex.R = ex.R.WithContext(context.WithValue(ex.R.Context(), bodyKey{}, parsedBody{v}))
}

// Body returns the parsed body and whether one was set.
func (ex *Exchange) Body() (any, bool) { return BodyFromContext(ex.R.Context()) }

// BodyFromContext returns the body stored by a parsing stage. Plain
// http.Handlers behind the pipeline read it from r.Context().
func BodyFromContext(ctx context.Context) (any, bool) {
	b, ok := ctx.Value(bodyKey{}).(parsedBody)
	return b.v, ok
}
