package httpserver

import (
	"net/http"
	"time"

	"github.com/keithlinneman/middleware-demo/internal/httpmw"
	"github.com/keithlinneman/middleware-demo/internal/log"
)

const (
	DefaultPort           = 3333
	DefaultMaxBodyBytes   = 1 << 20
	DefaultRequestTimeout = 30 * time.Second
)

type Options struct {
	Logger log.Logger
	Port   int

	// Pipeline answers every request once the ambient middleware ran.
	// nil answers 404.
	Pipeline http.Handler

	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	ContentInfo  httpmw.ContentInfo // X-Content-Bundle-Version and X-Content-Hash
	OnPanic      func()

	// MaxBodyBytes caps request bodies before any stage reads them.
	// 0 uses DefaultMaxBodyBytes, negative disables the cap.
	MaxBodyBytes int64
	// RequestTimeout bounds a whole request; expiry answers 503.
	// 0 uses DefaultRequestTimeout, negative disables it.
	RequestTimeout time.Duration
}
