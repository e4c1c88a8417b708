package stages

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/middleware-demo/internal/httpmw"
	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/log/logtest"
	"github.com/keithlinneman/middleware-demo/internal/pipeline"
)

func run(t *testing.T, req *http.Request, stages ...pipeline.Stage) *httptest.ResponseRecorder {
	t.Helper()
	p, err := pipeline.New(stages)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

func respond(status int, body string) pipeline.Stage {
	return pipeline.Stage{Name: "respond", Run: func(ex *pipeline.Exchange) pipeline.Outcome {
		ex.W.Header().Set("Content-Length", "5")
		ex.W.WriteHeader(status)
		ex.W.Write([]byte(body))
		return pipeline.Respond
	}}
}

func TestTinyLine(t *testing.T) {
	tests := []struct {
		method, uri string
		status      int
		length      string
		d           time.Duration
		want        string
	}{
		{"GET", "/", 200, "12", 1500 * time.Microsecond, "GET / 200 12 - 1.500 ms"},
		{"POST", "/api?x=1", 404, "", 250 * time.Microsecond, "POST /api?x=1 404 - - 0.250 ms"},
		{"GET", "/slow", 0, "", 2 * time.Second, "GET /slow - - - 2000.000 ms"},
	}
	for _, tt := range tests {
		if got := TinyLine(tt.method, tt.uri, tt.status, tt.length, tt.d); got != tt.want {
			t.Errorf("TinyLine = %q, want %q", got, tt.want)
		}
	}
}

func TestAccessLog_LogsAfterResponse(t *testing.T) {
	rec := logtest.New()
	req := httptest.NewRequest(http.MethodGet, "/hello?name=x", nil)
	run(t, req, AccessLog(AccessLogOptions{Logger: rec.Logger()}), respond(http.StatusCreated, "hello"))

	entries := rec.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want 1", rec.Messages())
	}
	e := entries[0]
	if !strings.HasPrefix(e.Msg, "GET /hello?name=x 201 5 - ") || !strings.HasSuffix(e.Msg, " ms") {
		t.Fatalf("line = %q", e.Msg)
	}
	if e.Fields["http.response.status_code"] != http.StatusCreated {
		t.Errorf("status field = %v", e.Fields["http.response.status_code"])
	}
	if e.Fields["http.response.body.size"] != int64(5) {
		t.Errorf("size field = %v", e.Fields["http.response.body.size"])
	}
	if e.Fields["url.path"] != "/hello" {
		t.Errorf("url.path = %v", e.Fields["url.path"])
	}
	if _, ok := e.Fields["http.server.request.duration"].(float64); !ok {
		t.Errorf("duration field missing")
	}
}

func TestAccessLog_CoversTerminal404(t *testing.T) {
	rec := logtest.New()
	run(t, httptest.NewRequest(http.MethodGet, "/missing", nil), AccessLog(AccessLogOptions{Logger: rec.Logger()}))
	if _, ok := rec.Find("GET /missing 404"); !ok {
		t.Fatalf("messages = %v", rec.Messages())
	}
}

func TestAccessLog_UsesRequestLogger(t *testing.T) {
	rec := logtest.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(log.WithContext(req.Context(), rec.Logger().With("request_id", "abc")))
	run(t, req, AccessLog(AccessLogOptions{}), respond(http.StatusOK, "hello"))

	e, ok := rec.Find("GET / 200")
	if !ok {
		t.Fatalf("messages = %v", rec.Messages())
	}
	if e.Fields["request_id"] != "abc" {
		t.Fatalf("request_id = %v", e.Fields["request_id"])
	}
}

func TestDemo(t *testing.T) {
	rec := logtest.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(log.WithContext(req.Context(), rec.Logger()))
	w := run(t, req, Demo())

	if rec.Count(DemoMessage) != 1 {
		t.Fatalf("messages = %v", rec.Messages())
	}
	if w.Code != http.StatusNotFound {
		t.Fatalf("demo should continue to the terminal, got %d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	strip := pipeline.Stage{Name: "strip", Run: func(ex *pipeline.Exchange) pipeline.Outcome {
		ex.W.Header().Set("X-Powered-By", "Express")
		return pipeline.Continue
	}}
	w := run(t, httptest.NewRequest(http.MethodGet, "/", nil), strip, SecurityHeaders())

	for _, name := range httpmw.SecurityHeaderNames() {
		if w.Header().Get(name) == "" {
			t.Errorf("%s not set", name)
		}
	}
	if w.Header().Get("X-Powered-By") != "" {
		t.Error("X-Powered-By not removed")
	}
}
