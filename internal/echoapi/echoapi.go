// Package echoapi is a small example router placed behind the pipeline. It
// shows a handler reading the body a parsing stage left in the context.
package echoapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/pipeline"
)

const EchoPath = "/api/echo"

type echoResponse struct {
	Body any `json:"body"`
}

// RegisterRoutes mounts POST /api/echo.
func RegisterRoutes(r chi.Router) {
	r.Post(EchoPath, echo)
}

// echo answers {"body": <parsed body>}, with null when no stage parsed one.
func echo(w http.ResponseWriter, r *http.Request) {
	body, _ := pipeline.BodyFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(echoResponse{Body: body}); err != nil {
		ctx := r.Context()
		log.FromContext(ctx).Error(ctx, err, "echo: encode response")
	}
}
