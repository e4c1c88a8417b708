// Package prof runs continuous profiling against a Pyroscope server.
package prof

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	// BasicAuthUser and BasicAuthPassword are sent when the user is set.
	BasicAuthUser        string
	BasicAuthPassword    string
	TenantID             string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int
	// OnActive reports whether profiling is running, for the profiling_active gauge.
	OnActive func(bool)
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

func validAddress(addr string) error {
	u, err := url.Parse(addr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return xerrors.Newf("invalid server address (%q)", addr)
	}
	return nil
}

// Start begins profiling. The returned stop func is always callable and
// stops the profiler at most once.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	active := func(on bool) {
		if opts.OnActive != nil {
			opts.OnActive(on)
		}
	}
	noop := func() {}

	if !opts.Enabled {
		active(false)
		L.Info(ctx, "pyroscope disabled")
		return noop, nil
	}
	if err := validAddress(opts.ServerAddress); err != nil {
		active(false)
		L.Error(ctx, err, "pyroscope options")
		return noop, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	cfg := pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		Logger:          pyroLogger{L: L, ctx: ctx},
		ProfileTypes:    profileTypes,
	}
	if opts.BasicAuthUser != "" {
		cfg.BasicAuthUser = opts.BasicAuthUser
		cfg.BasicAuthPassword = opts.BasicAuthPassword
	}

	fields := []any{"server_address", opts.ServerAddress, "app_name", opts.AppName}
	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		active(false)
		L.Error(ctx, err, "pyroscope start failed", fields...)
		return noop, xerrors.Wrap(err, "start pyroscope")
	}
	active(true)
	L.Info(ctx, "pyroscope started", fields...)

	var once sync.Once
	return func() {
		once.Do(func() {
			profiler.Stop()
			active(false)
			L.Info(context.Background(), "pyroscope stopped", fields...)
		})
	}, nil
}

// pyroLogger routes the profiler's own messages into the structured logger.
type pyroLogger struct {
	L   log.Logger
	ctx context.Context
}

func (p pyroLogger) Infof(format string, args ...any) {
	p.L.Debug(p.ctx, fmt.Sprintf(format, args...), "component", "pyroscope")
}

func (p pyroLogger) Debugf(format string, args ...any) {
	p.L.Debug(p.ctx, fmt.Sprintf(format, args...), "component", "pyroscope")
}

func (p pyroLogger) Errorf(format string, args ...any) {
	p.L.Warn(p.ctx, fmt.Sprintf(format, args...), "component", "pyroscope")
}
