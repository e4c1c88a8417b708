package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/middleware-demo/internal/httpmw"
)

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, http.NoBody))
	return rec
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	sw.Write([]byte("aaa"))
	sw.WriteHeader(http.StatusTeapot)
	sw.Write([]byte("bb"))

	if sw.status != http.StatusOK {
		t.Fatalf("status = %d, want first status 200", sw.status)
	}
	if sw.n != 5 {
		t.Fatalf("bytes = %d, want 5", sw.n)
	}
	if sw.Unwrap() != rec {
		t.Fatal("Unwrap should return the wrapped writer")
	}
}

func TestMiddleware_RouteFromStage(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpmw.SetRoute(r, "static")
		w.Write([]byte("hello world"))
	}))
	serve(h, http.MethodGet, "/css/site.css")

	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", "static", "200")); got != 1 {
		t.Fatalf("requests{static,200} = %v", got)
	}
	f := gatherMetric(t, m.reg, "http_response_size_bytes")
	if f == nil || f.GetMetric()[0].GetHistogram().GetSampleSum() != 11 {
		t.Fatal("response size not observed")
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	serve(h, http.MethodGet, "/some/raw/path")

	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", UnmatchedRoute, "429")); got != 1 {
		t.Fatalf("requests{unmatched,429} = %v", got)
	}
}

func TestMiddleware_NoWriteCountsAs200(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	serve(h, http.MethodGet, "/")
	if got := testutil.ToFloat64(m.reqTotal.WithLabelValues("GET", UnmatchedRoute, "200")); got != 1 {
		t.Fatalf("requests = %v", got)
	}
}

func TestMiddleware_ErrorsOnlyFor5xx(t *testing.T) {
	m := New()
	for _, code := range []int{200, 404, 500, 503} {
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpmw.SetRoute(r, "demo")
			w.WriteHeader(code)
		}))
		serve(h, http.MethodGet, "/")
	}
	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("GET", "demo")); got != 2 {
		t.Fatalf("errors = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.reqTotal); n != 4 {
		t.Fatalf("request series = %d, want 4", n)
	}
}

func TestMiddleware_InflightReturnsToZero(t *testing.T) {
	m := New()
	var during float64
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(m.inflight)
	}))
	serve(h, http.MethodPost, "/api/echo")
	if during != 1 {
		t.Fatalf("inflight during request = %v", during)
	}
	if got := testutil.ToFloat64(m.inflight); got != 0 {
		t.Fatalf("inflight after = %v", got)
	}
}

func TestMiddleware_ReusesOuterRouteSlot(t *testing.T) {
	m := New()
	var outer string
	inner := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpmw.SetRoute(r, "json")
	}))
	h := httpmw.TrackRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r)
		outer = httpmw.RouteFromContext(r.Context())
	}))
	serve(h, http.MethodPost, "/")
	if outer != "json" {
		t.Fatalf("outer route = %q, want json", outer)
	}
}

func TestTraceExemplar(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	mk := func(flags trace.TraceFlags) context.Context {
		sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: flags})
		return trace.ContextWithSpanContext(context.Background(), sc)
	}

	if ex := traceExemplar(mk(trace.FlagsSampled)); ex["trace_id"] != traceID.String() {
		t.Fatalf("sampled exemplar = %v", ex)
	}
	if ex := traceExemplar(mk(0)); ex != nil {
		t.Fatalf("unsampled exemplar = %v", ex)
	}
	if ex := traceExemplar(context.Background()); ex != nil {
		t.Fatalf("no-trace exemplar = %v", ex)
	}
}
