// Package reqlog is the external request logger plugged into the pipeline
// as a plain net/http middleware.
package reqlog

import (
	"net/http"

	"github.com/keithlinneman/middleware-demo/internal/log"
)

const Message = "request received"

// Middleware logs Message through the request-scoped logger and always
// calls next.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log.FromContext(ctx).Info(ctx, Message, "url.path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
