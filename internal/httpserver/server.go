package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/middleware-demo/internal/httpmw"
	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

// TimeoutMessage is the body of a 503 sent when RequestTimeout expires.
const TimeoutMessage = "request timed out\n"

// NewHandler wraps opts.Pipeline in the ambient middleware. main() owns the
// *http.Server so it can shut down gracefully.
func NewHandler(opts *Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	var inner http.Handler = http.NotFoundHandler()
	if opts.Pipeline != nil {
		inner = opts.Pipeline
	}

	// Compress text responses (HTML/CSS/JS/JSON/SVG)
	inner = middleware.Compress(5,
		"text/html",
		"text/css",
		"text/plain",
		"application/javascript",
		"text/javascript",
		"application/json",
		"image/svg+xml",
	)(inner)

	// a stage that never finishes is answered with 503 instead of hanging
	timeout := opts.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	if timeout > 0 {
		inner = http.TimeoutHandler(inner, timeout, TimeoutMessage)
	}

	maxBody := opts.MaxBodyBytes
	if maxBody == 0 {
		maxBody = DefaultMaxBodyBytes
	}
	var maxBodyMW func(http.Handler) http.Handler
	if maxBody > 0 {
		maxBodyMW = httpmw.MaxBody(maxBody)
	}

	var contentMW func(http.Handler) http.Handler
	if opts.ContentInfo != nil {
		contentMW = httpmw.ContentHeaders(opts.ContentInfo)
	}

	// outermost first
	return httpmw.Chain(inner,
		// on every response, including panics and 429s
		httpmw.SecurityHeaders,
		httpmw.Recover(L, opts.OnPanic),
		httpmw.RequestID(httpmw.RequestIDHeader),
		// before the rate limiter and logger, they key on the resolved address
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		opts.RateLimitMW,
		tracing,
		httpmw.TraceResponseHeaders(httpmw.DefaultTraceHeader, httpmw.DefaultSpanHeader),
		contentMW,
		opts.MetricsMW,
		// inner so it sees trace_id
		httpmw.WithLogger(L),
		maxBodyMW,
	)
}

func tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return shouldTrace(r.URL.Path) }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// SetRoute renames the span once the answering stage is known
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// shouldTrace skips favicons and static asset extensions.
func shouldTrace(p string) bool {
	if p == "/favicon.ico" || p == "/favicon.svg" || p == "/robots.txt" {
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".mjs", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

// Server timeout defaults. WriteTimeout leaves room for RequestTimeout to
// answer first.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = DefaultRequestTimeout + 5*time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start binds the port once and serves in the background. A bind failure,
// such as the port being in use, is returned as is: there is no retry and no
// fallback port. The returned stop func shuts the server down once.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))
	if opts.RequestTimeout > DefaultRequestTimeout {
		srv.WriteTimeout = opts.RequestTimeout + 5*time.Second
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on addr=%s", addr)
	}
	L.Info(ctx, fmt.Sprintf("listening on %d", port), "addr", addr)

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
