package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/middleware-demo/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names when reading the
// environment, so -env is APP_ENV and -http-port is APP_HTTP_PORT.
const EnvPrefix = "APP_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort  int
	AdminPort int
	Env       string

	StaticDir        string
	StaticS3Bucket   string
	StaticS3Prefix   string
	StaticSSMParam   string
	StaticBundleHash string
	StaticPollEvery  time.Duration

	JSONLimit      int64
	FormLimit      int64
	FormParamLimit int
	FormDepth      int
	MaxBodyBytes   int64
	RequestTimeout time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	TrustedHops    int

	EnableEcho      bool
	EnablePprof     bool
	EnableTracing   bool
	EnablePyroscope bool
	OTLPEndpoint    string
	TraceSample     float64
	PyroServer      string
	PyroTenantID    string
}

// StaticFromS3 reports whether static content should come from a bundle in S3.
func (c App) StaticFromS3() bool { return c.StaticS3Bucket != "" }

// StaticPolls reports whether the active bundle hash is followed in SSM. A
// pinned -static-bundle-hash never changes.
func (c App) StaticPolls() bool {
	return c.StaticFromS3() && c.StaticSSMParam != "" && c.StaticBundleHash == ""
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 3333, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.Env, "env", "", "runtime environment name, \"development\" enables access logging")

	fs.StringVar(&c.StaticDir, "static-dir", "public", "directory served by the static stage")
	fs.StringVar(&c.StaticS3Bucket, "static-s3-bucket", "", "s3 bucket holding static content bundles (empty serves -static-dir)")
	fs.StringVar(&c.StaticS3Prefix, "static-s3-prefix", "", "s3 prefix (key) of static content bundles")
	fs.StringVar(&c.StaticSSMParam, "static-ssm-param", "", "ssm parameter holding the sha256 of the static bundle to serve")
	fs.StringVar(&c.StaticBundleHash, "static-bundle-hash", "", "sha256 of the static bundle to serve (instead of -static-ssm-param)")
	fs.DurationVar(&c.StaticPollEvery, "static-poll-interval", 30*time.Second, "how often -static-ssm-param is checked for a new bundle")

	fs.Int64Var(&c.JSONLimit, "json-limit", 100<<10, "max JSON body bytes")
	fs.Int64Var(&c.FormLimit, "form-limit", 100<<10, "max urlencoded body bytes")
	fs.IntVar(&c.FormParamLimit, "form-param-limit", 1000, "max urlencoded parameters")
	fs.IntVar(&c.FormDepth, "form-depth", 32, "max nesting depth of urlencoded keys")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "hard cap on any request body")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", 30*time.Second, "time a request may spend in the pipeline before a 503")

	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 10, "per-ip requests per second (0 disables)")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 30, "per-ip burst size")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "trusted reverse proxies in front of the server")

	fs.BoolVar(&c.EnableEcho, "enable-echo", false, "register POST /api/echo")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	FillFromLookup(fs, prefix, os.LookupEnv, logf)
}

// FillFromLookup is FillFromEnv with an injectable environment.
func FillFromLookup(fs *flag.FlagSet, prefix string, lookup func(string) (string, bool), logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, ok := lookup(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.StaticDir == "" && !c.StaticFromS3() {
		errs = append(errs, fmt.Errorf("STATIC_DIR is required unless STATIC_S3_BUCKET is set"))
	}
	if c.StaticFromS3() && c.StaticSSMParam == "" && c.StaticBundleHash == "" {
		errs = append(errs, fmt.Errorf("STATIC_SSM_PARAM or STATIC_BUNDLE_HASH required when STATIC_S3_BUCKET is set"))
	}
	if c.StaticPolls() && c.StaticPollEvery < time.Second {
		errs = append(errs, fmt.Errorf("STATIC_POLL_INTERVAL must be at least 1s (got %s)", c.StaticPollEvery))
	}

	if c.JSONLimit <= 0 {
		errs = append(errs, fmt.Errorf("JSON_LIMIT must be positive (got %d)", c.JSONLimit))
	}
	if c.FormLimit <= 0 {
		errs = append(errs, fmt.Errorf("FORM_LIMIT must be positive (got %d)", c.FormLimit))
	}
	if c.FormParamLimit <= 0 {
		errs = append(errs, fmt.Errorf("FORM_PARAM_LIMIT must be positive (got %d)", c.FormParamLimit))
	}
	if c.FormDepth < 0 {
		errs = append(errs, fmt.Errorf("FORM_DEPTH must not be negative (got %d)", c.FormDepth))
	}
	if c.MaxBodyBytes < c.JSONLimit || c.MaxBodyBytes < c.FormLimit {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES %d must be >= JSON_LIMIT and FORM_LIMIT", c.MaxBodyBytes))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive (got %s)", c.RequestTimeout))
	}

	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must not be negative (got %.2f)", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 when rate limiting (got %d)", c.RateLimitBurst))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must not be negative (got %d)", c.TrustedHops))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if err := validHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	return errors.Join(errs...)
}

func validHostPort(ep string) error {
	if strings.Contains(ep, "://") {
		return errors.New("no scheme allowed")
	}
	host, port, err := net.SplitHostPort(ep)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("missing host")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
