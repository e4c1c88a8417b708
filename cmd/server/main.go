package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/middleware-demo/internal/bodyparse"
	"github.com/keithlinneman/middleware-demo/internal/bootstrap"
	"github.com/keithlinneman/middleware-demo/internal/cfg"
	"github.com/keithlinneman/middleware-demo/internal/echoapi"
	"github.com/keithlinneman/middleware-demo/internal/health"
	"github.com/keithlinneman/middleware-demo/internal/httpmw"
	"github.com/keithlinneman/middleware-demo/internal/httpserver"
	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/metrics"
	"github.com/keithlinneman/middleware-demo/internal/opshttp"
	"github.com/keithlinneman/middleware-demo/internal/otelx"
	"github.com/keithlinneman/middleware-demo/internal/pipeline"
	"github.com/keithlinneman/middleware-demo/internal/prof"
	"github.com/keithlinneman/middleware-demo/internal/ratelimit"
	v "github.com/keithlinneman/middleware-demo/internal/version"
)

// drainPeriod is how long readiness fails before listeners close.
const drainPeriod = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// flag > APP_* env > default; APP_ENV is the environment flag
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl := slog.LevelError
	if conf.StacktraceLevel != "" {
		stackLvl, _ = log.ParseLevel(conf.StacktraceLevel)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSONFormat:        conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"static_dir", conf.StaticDir,
		"static_s3_bucket", conf.StaticS3Bucket,
		"static_ssm_param", conf.StaticSSMParam,
		"enable_echo", conf.EnableEcho,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		// profiling is optional, keep serving
		L.Warn(ctx, "continuing without pyroscope", "error", err)
	}
	defer stopProf()

	// the collector is on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		Sample:      conf.TraceSample,
		Service:     v.AppName,
		Component:   "server",
		Version:     vi.Version,
		Environment: conf.Env,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		os.Exit(1)
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	contentMgr, err := setupContent(ctx, L, conf, m)
	if err != nil {
		L.Error(ctx, err, "failed to load static content")
		os.Exit(1)
	}

	var routes func(chi.Router)
	if conf.EnableEcho {
		routes = echoapi.RegisterRoutes
	}

	// the development decision is made here, once
	pl, err := bootstrap.Build(ctx, bootstrap.Options{
		Env:     conf.Env,
		Port:    conf.HTTPPort,
		Content: contentMgr,
		Routes:  routes,
		JSON: bodyparse.JSONOptions{
			Limit:    conf.JSONLimit,
			OnResult: m.ObserveBodyParse,
		},
		Form: bodyparse.FormOptions{
			Limit:          conf.FormLimit,
			ParameterLimit: conf.FormParamLimit,
			Depth:          conf.FormDepth,
			OnResult:       m.ObserveBodyParse,
		},
		Logger: L,
		Observer: func(stage string, o pipeline.Outcome) {
			m.ObserveStage(stage, o.String())
		},
	})
	if err != nil {
		L.Error(ctx, err, "failed to build request pipeline")
		os.Exit(1)
	}

	var rateLimitMW func(http.Handler) http.Handler
	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
			// once per bucket lifetime
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(func(context.Context) error { return contentMgr.ReadyErr() }),
	)

	// binds exactly once; a port in use is fatal, there is no fallback
	siteStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:         L,
		Port:           conf.HTTPPort,
		Pipeline:       pl,
		MetricsMW:      m.Middleware,
		RateLimitMW:    rateLimitMW,
		ClientIPOpts:   httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		ContentInfo:    contentMgr,
		OnPanic:        m.IncHttpPanic,
		MaxBodyBytes:   conf.MaxBodyBytes,
		RequestTimeout: conf.RequestTimeout,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener", "port", conf.HTTPPort)
		os.Exit(1)
	}
	defer func() { _ = siteStop(context.Background()) }()

	opsStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener", "port", conf.AdminPort)
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "period", drainPeriod.String())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := siteStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "otel shutdown")
	}
	L.Info(context.Background(), "shutdown complete")
}

// notifySystemd sends READY=1 when started as a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return nil
}
