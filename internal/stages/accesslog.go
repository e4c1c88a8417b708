package stages

import (
	"strconv"
	"time"

	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/pipeline"
)

const AccessLogStage = "access-log"

type AccessLogOptions struct {
	// Logger receives one line per request. When nil the request-scoped
	// logger is used.
	Logger log.Logger
}

// AccessLog registers a completion hook that logs each request in the
// morgan "tiny" layout:
//
//	METHOD URL STATUS CONTENT-LENGTH - N.NNN ms
//
// STATUS is "-" when nothing was written and CONTENT-LENGTH is "-" when the
// header is absent. The line is logged after the response, whatever stage
// answered.
func AccessLog(opts AccessLogOptions) pipeline.Stage {
	return pipeline.Stage{Name: AccessLogStage, Run: func(ex *pipeline.Exchange) pipeline.Outcome {
		method, uri, path := ex.R.Method, ex.R.URL.RequestURI(), ex.R.URL.Path
		ex.OnComplete(func(ex *pipeline.Exchange) {
			ctx := ex.Context()
			L := opts.Logger
			if L == nil {
				L = log.FromContext(ctx)
			}
			d := ex.Duration()
			L.Info(ctx, TinyLine(method, uri, ex.Status(), ex.W.Header().Get("Content-Length"), d),
				"http.request.method", method,
				"url.path", path,
				"http.response.status_code", ex.Status(),
				"http.response.body.size", ex.BytesWritten(),
				"http.server.request.duration", d.Seconds(),
			)
		})
		return pipeline.Continue
	}}
}

// TinyLine formats one access log line.
func TinyLine(method, uri string, status int, contentLength string, d time.Duration) string {
	st := "-"
	if status > 0 {
		st = strconv.Itoa(status)
	}
	if contentLength == "" {
		contentLength = "-"
	}
	ms := strconv.FormatFloat(float64(d.Nanoseconds())/1e6, 'f', 3, 64)
	return method + " " + uri + " " + st + " " + contentLength + " - " + ms + " ms"
}
