package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/middleware-demo/internal/httpmw"
	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/log/logtest"
)

func cont(name string, trail *[]string) Stage {
	return Stage{Name: name, Run: func(ex *Exchange) Outcome {
		*trail = append(*trail, name)
		return Continue
	}}
}

func respond(name string, code int, trail *[]string) Stage {
	return Stage{Name: name, Run: func(ex *Exchange) Outcome {
		*trail = append(*trail, name)
		ex.W.WriteHeader(code)
		return Respond
	}}
}

func mustNew(t *testing.T, stages []Stage, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(stages, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// serve runs p with a recording logger in the request context.
func serve(p http.Handler, req *http.Request) (*httptest.ResponseRecorder, *logtest.Recorder) {
	rec := logtest.New()
	req = req.WithContext(log.WithContext(req.Context(), rec.Logger()))
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)
	return w, rec
}

func TestNew_Validation(t *testing.T) {
	ok := func(*Exchange) Outcome { return Continue }
	tests := []struct {
		name   string
		stages []Stage
		opts   []Option
		want   string
	}{
		{"empty name", []Stage{{Name: "", Run: ok}}, nil, "no name"},
		{"nil run", []Stage{{Name: "a"}}, nil, "no Run"},
		{"duplicate", []Stage{{Name: "a", Run: ok}, {Name: "a", Run: ok}}, nil, "duplicate"},
		{"terminal clashes", []Stage{{Name: "a", Run: ok}}, []Option{WithTerminal(Stage{Name: "a", Run: ok})}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.stages, tt.opts...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestServeHTTP_RunsInOrderUntilRespond(t *testing.T) {
	var trail []string
	p := mustNew(t, []Stage{
		cont("a", &trail),
		cont("b", &trail),
		respond("c", http.StatusTeapot, &trail),
		cont("d", &trail),
	})
	w, _ := serve(p, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if got := strings.Join(trail, ","); got != "a,b,c" {
		t.Fatalf("trail = %s", got)
	}
	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestServeHTTP_DefaultTerminalIs404(t *testing.T) {
	var trail []string
	p := mustNew(t, []Stage{cont("a", &trail)})
	w, _ := serve(p, httptest.NewRequest(http.MethodGet, "/nothing", http.NoBody))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if got := p.Names(); strings.Join(got, ",") != "a,not-found" {
		t.Fatalf("names = %v", got)
	}
}

func TestServeHTTP_TerminalThatContinuesStillAnswers(t *testing.T) {
	p := mustNew(t, nil, WithTerminal(Stage{Name: "lazy", Run: func(*Exchange) Outcome { return Continue }}))
	w, rec := serve(p, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if rec.Count("terminal stage continued") != 1 {
		t.Fatalf("logs = %v", rec.Messages())
	}
}

func TestServeHTTP_WriteThenContinueStops(t *testing.T) {
	var trail []string
	p := mustNew(t, []Stage{
		{Name: "sloppy", Run: func(ex *Exchange) Outcome {
			ex.W.WriteHeader(http.StatusAccepted)
			return Continue
		}},
		cont("after", &trail),
	})
	w, rec := serve(p, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if len(trail) != 0 {
		t.Fatalf("later stage ran: %v", trail)
	}
	e, ok := rec.Find("wrote a response but continued")
	if !ok || e.Level != "warn" || e.Fields["stage"] != "sloppy" {
		t.Fatalf("warning missing: %+v", rec.Entries())
	}
}

func TestServeHTTP_ObserverSeesEveryStage(t *testing.T) {
	var trail []string
	var seen []string
	p := mustNew(t, []Stage{cont("a", &trail), respond("b", 200, &trail)},
		WithObserver(func(stage string, o Outcome) { seen = append(seen, stage+"="+o.String()) }))
	serve(p, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if got := strings.Join(seen, ","); got != "a=continue,b=respond" {
		t.Fatalf("observed = %s", got)
	}
}

func TestServeHTTP_SetsRouteToAnsweringStage(t *testing.T) {
	var trail []string
	p := mustNew(t, []Stage{cont("a", &trail), respond("static", 200, &trail)})
	var route string
	h := httpmw.TrackRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.ServeHTTP(w, r)
		route = httpmw.RouteFromContext(r.Context())
	}))
	serve(h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if route != "static" {
		t.Fatalf("route = %q, want static", route)
	}
}

func TestExchange_OnCompleteReverseOrderOnce(t *testing.T) {
	var order []string
	p := mustNew(t, []Stage{
		{Name: "hooks", Run: func(ex *Exchange) Outcome {
			ex.OnComplete(func(*Exchange) { order = append(order, "first") })
			ex.OnComplete(nil)
			ex.OnComplete(func(ex *Exchange) { order = append(order, "second") })
			return Continue
		}},
		{Name: "write", Run: func(ex *Exchange) Outcome {
			_, _ = ex.W.Write([]byte("hello"))
			return Respond
		}},
	})
	serve(p, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if got := strings.Join(order, ","); got != "second,first" {
		t.Fatalf("hook order = %s", got)
	}
}

func TestExchange_StatusAndBytes(t *testing.T) {
	var status int
	var n int64
	var written bool
	p := mustNew(t, []Stage{
		{Name: "hook", Run: func(ex *Exchange) Outcome {
			if ex.Written() || ex.Status() != 0 {
				t.Error("fresh exchange should not be written")
			}
			ex.OnComplete(func(ex *Exchange) { status, n, written = ex.Status(), ex.BytesWritten(), ex.Written() })
			return Continue
		}},
		{Name: "write", Run: func(ex *Exchange) Outcome {
			ex.W.WriteHeader(http.StatusCreated)
			ex.W.WriteHeader(http.StatusInternalServerError)
			_, _ = ex.W.Write([]byte("12345"))
			return Respond
		}},
	})
	w, _ := serve(p, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if w.Code != http.StatusCreated || status != http.StatusCreated {
		t.Fatalf("status = %d / %d, want 201", w.Code, status)
	}
	if n != 5 || !written {
		t.Fatalf("bytes = %d written = %v", n, written)
	}
}

func TestExchange_BodySharedWithLaterStagesAndHandlers(t *testing.T) {
	var fromStage, fromHandler any
	p := mustNew(t, []Stage{
		{Name: "parse", Run: func(ex *Exchange) Outcome {
			if _, ok := ex.Body(); ok {
				t.Error("body set too early")
			}
			ex.SetBody(map[string]any{"a": "1"})
			return Continue
		}},
		{Name: "read", Run: func(ex *Exchange) Outcome {
			fromStage, _ = ex.Body()
			return Continue
		}},
	}, WithTerminal(FromHandler("router", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromHandler, _ = BodyFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))))
	serve(p, httptest.NewRequest(http.MethodPost, "/", http.NoBody))

	if m, ok := fromStage.(map[string]any); !ok || m["a"] != "1" {
		t.Fatalf("stage saw %v", fromStage)
	}
	if m, ok := fromHandler.(map[string]any); !ok || m["a"] != "1" {
		t.Fatalf("handler saw %v", fromHandler)
	}
}

func TestFromMiddleware_Continue(t *testing.T) {
	type key struct{}
	var trail []string
	var seen any
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), key{}, "v")))
		})
	}
	p := mustNew(t, []Stage{
		FromMiddleware("ext", mw),
		{Name: "after", Run: func(ex *Exchange) Outcome {
			trail = append(trail, "after")
			seen = ex.Context().Value(key{})
			ex.W.WriteHeader(http.StatusOK)
			return Respond
		}},
	})
	w, _ := serve(p, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if w.Code != http.StatusOK || len(trail) != 1 {
		t.Fatalf("status = %d trail = %v", w.Code, trail)
	}
	if seen != "v" {
		t.Fatal("context from next() was not carried forward")
	}
}

func TestFromMiddleware_Respond(t *testing.T) {
	var trail []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "denied", http.StatusForbidden)
		})
	}
	p := mustNew(t, []Stage{FromMiddleware("guard", mw), cont("after", &trail)})
	w, _ := serve(p, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if w.Code != http.StatusForbidden || len(trail) != 0 {
		t.Fatalf("status = %d trail = %v", w.Code, trail)
	}
}

func TestFromMiddleware_StalledAnswers500(t *testing.T) {
	var trail []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	}
	p := mustNew(t, []Stage{FromMiddleware("forgetful", mw), cont("after", &trail)})
	w, rec := serve(p, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if len(trail) != 0 {
		t.Fatal("stage after a stalled middleware ran")
	}
	e, ok := rec.Find("stage stalled")
	if !ok || !errors.Is(e.Err, ErrStalled) {
		t.Fatalf("stall not logged: %+v", rec.Entries())
	}
}

func TestFromHandler_ChiRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chi.URLParam(r, "id")))
	})
	p := mustNew(t, nil, WithTerminal(FromHandler("router", r)))

	var route string
	h := httpmw.TrackRoute(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p.ServeHTTP(w, req)
		route = httpmw.RouteFromContext(req.Context())
	}))
	w, _ := serve(h, httptest.NewRequest(http.MethodGet, "/items/42", http.NoBody))

	if w.Body.String() != "42" {
		t.Fatalf("body = %q", w.Body.String())
	}
	if route != "/items/{id}" {
		t.Fatalf("route = %q", route)
	}
}

func TestFromHandler_ChiNotFound(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/only", func(w http.ResponseWriter, r *http.Request) {})
	p := mustNew(t, nil, WithTerminal(FromHandler("router", r)))
	w, _ := serve(p, httptest.NewRequest(http.MethodGet, "/missing", http.NoBody))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestOutcome_String(t *testing.T) {
	if Continue.String() != "continue" || Respond.String() != "respond" || Outcome(9).String() != "outcome(9)" {
		t.Fatal("unexpected Outcome strings")
	}
}
