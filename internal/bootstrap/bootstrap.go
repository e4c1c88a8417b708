// Package bootstrap assembles the request pipeline from explicit options.
// Nothing here reads the process environment; cmd/server resolves
// configuration and passes it in.
package bootstrap

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/middleware-demo/internal/bodyparse"
	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/pipeline"
	"github.com/keithlinneman/middleware-demo/internal/reqlog"
	"github.com/keithlinneman/middleware-demo/internal/stages"
	"github.com/keithlinneman/middleware-demo/internal/static"
	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

// DevelopmentEnv is the environment name that enables the access log.
const DevelopmentEnv = "development"

const (
	ExternalLoggerStage = "reqlog"
	RouterStage         = "router"
)

type Options struct {
	// Env is the environment name, read once at startup. Empty means unset.
	Env string
	// Port is only used in the startup log line.
	Port int

	Content static.SnapshotProvider
	// Routes registers handlers on the terminal router. When nil the
	// pipeline ends in a 404.
	Routes func(chi.Router)
	// ExternalLogger defaults to reqlog.Middleware.
	ExternalLogger func(http.Handler) http.Handler

	JSON bodyparse.JSONOptions
	Form bodyparse.FormOptions

	Logger log.Logger
	// AccessLogger receives access log lines. Defaults to the request-scoped
	// logger.
	AccessLogger log.Logger
	Observer     pipeline.Observer
}

// IsDevelopment reports whether env names the development environment.
func IsDevelopment(env string) bool { return env == DevelopmentEnv }

// Build logs the environment decision and returns the pipeline:
//
//	json, urlencoded, static, security-headers, [access-log], demo, reqlog, terminal
//
// The access log is included only when opts.Env is "development"; the
// returned pipeline never looks at the environment again.
func Build(ctx context.Context, opts Options) (*pipeline.Pipeline, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	if opts.Content == nil {
		return nil, xerrors.New("bootstrap: Content is required")
	}
	ext := opts.ExternalLogger
	if ext == nil {
		ext = reqlog.Middleware
	}

	dev := IsDevelopment(opts.Env)
	shown := opts.Env
	if shown == "" {
		shown = "(unset)"
	}
	L.Info(ctx, "environment: "+shown, "env", opts.Env)
	L.Info(ctx, "development mode: "+strconv.FormatBool(dev), "env", shown, "development", dev)
	if dev {
		L.Info(ctx, "access log enabled, ready to log http requests on http://localhost:"+strconv.Itoa(opts.Port)+"/")
	}

	staticStage, err := static.New(static.Options{Logger: L, Content: opts.Content})
	if err != nil {
		return nil, xerrors.Wrap(err, "bootstrap: static stage")
	}

	list := []pipeline.Stage{
		bodyparse.JSON(opts.JSON),
		bodyparse.URLEncoded(opts.Form),
		staticStage,
		stages.SecurityHeaders(),
	}
	if dev {
		list = append(list, stages.AccessLog(stages.AccessLogOptions{Logger: opts.AccessLogger}))
	}
	list = append(list,
		stages.Demo(),
		pipeline.FromMiddleware(ExternalLoggerStage, ext),
	)

	var popts []pipeline.Option
	if opts.Routes != nil {
		r := chi.NewRouter()
		opts.Routes(r)
		popts = append(popts, pipeline.WithTerminal(pipeline.FromHandler(RouterStage, r)))
	}
	if opts.Observer != nil {
		popts = append(popts, pipeline.WithObserver(opts.Observer))
	}

	p, err := pipeline.New(list, popts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "bootstrap: assemble pipeline")
	}
	L.Debug(ctx, "pipeline assembled", "stages", p.Names())
	return p, nil
}
