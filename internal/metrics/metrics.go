// Package metrics owns the Prometheus registry served on the admin listener.
// Route labels are stage names or router patterns, never raw paths, so label
// cardinality stays bounded whatever clients request.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/middleware-demo/internal/version"
)

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	sizeBuckets    = prometheus.ExponentialBuckets(256, 4, 10)
	loadBuckets    = []float64{0.5, 1, 2.5, 5, 10, 30, 60}
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	// pipeline
	stageOutcomes  *prometheus.CounterVec
	bodyParseTotal *prometheus.CounterVec

	// static content
	contentSource          *prometheus.GaugeVec
	contentLoadedTimestamp prometheus.Gauge
	contentBundleInfo      *prometheus.GaugeVec
	watcherPollsTotal      prometheus.Counter
	watcherSwapsTotal      prometheus.Counter
	watcherErrorsTotal     *prometheus.CounterVec
	bundleLoadDuration     prometheus.Histogram
	watcherLastSuccessTs   prometheus.Gauge

	// process
	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New returns metrics on a fresh registry that also carries the Go and
// process collectors.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &ServerMetrics{
		reg:     reg,
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}),

		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests currently being served",
		}),
		reqTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Requests by method, answering route and status",
		}, []string{"method", "route", "status"}),
		reqDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and answering route",
			Buckets: latencyBuckets,
		}, []string{"method", "route"}),
		respBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response body size by method and answering route",
			Buckets: sizeBuckets,
		}, []string{"method", "route"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "5xx responses by method and answering route",
		}, []string{"method", "route"}),
		httpPanicTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Panics recovered while serving requests",
		}),
		ratelimitDeniedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests answered 429 by the per-client limiter",
		}),
		ratelimitCapacityTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "New clients refused because the limiter tracks too many clients",
		}),

		stageOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_outcomes_total",
			Help: "Stage executions by stage name and outcome (continue, respond)",
		}, []string{"stage", "outcome"}),
		bodyParseTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "body_parse_total",
			Help: "Request bodies handled by parser and result",
		}, []string{"parser", "result"}),

		contentSource: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "content_source_info",
			Help: "Where static content is served from (label carries the source, value is 1)",
		}, []string{"source"}),
		contentLoadedTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "content_loaded_timestamp_seconds",
			Help: "Unix time the active static content was loaded",
		}),
		contentBundleInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "content_bundle_info",
			Help: "Active static bundle (label carries its sha256, value is 1)",
		}, []string{"sha256"}),
		watcherPollsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "content_watcher_polls_total",
			Help: "Bundle hash polls",
		}),
		watcherSwapsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "content_watcher_swaps_total",
			Help: "Bundles swapped in after validation",
		}),
		watcherErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "content_watcher_errors_total",
			Help: "Watcher failures by type (fetch, load, validation)",
		}, []string{"type"}),
		bundleLoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "content_bundle_load_duration_seconds",
			Help:    "Time to download, verify and extract a bundle",
			Buckets: loadBuckets,
		}),
		watcherLastSuccessTs: f.NewGauge(prometheus.GaugeOpts{
			Name: "content_watcher_last_success_timestamp_seconds",
			Help: "Unix time of the last successful hash poll",
		}),

		buildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "1 while continuous profiling is running",
		}),
	}
	return m
}

// Handler serves the registry in text or OpenMetrics format.
func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolValue(active))
}

func (m *ServerMetrics) IncHttpPanic()         { m.httpPanicTotal.Inc() }
func (m *ServerMetrics) IncRateLimitDenied()   { m.ratelimitDeniedTotal.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacityTotal.Inc() }

// ObserveStage counts one stage execution. It matches pipeline.Observer once
// the outcome is rendered with Outcome.String.
func (m *ServerMetrics) ObserveStage(stage, outcome string) {
	m.stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// ObserveBodyParse has the shape of bodyparse.ResultFunc.
func (m *ServerMetrics) ObserveBodyParse(parser, result string) {
	m.bodyParseTotal.WithLabelValues(parser, result).Inc()
}

// SetContentSource keeps a single series, the previous source is dropped.
func (m *ServerMetrics) SetContentSource(source string) {
	m.contentSource.Reset()
	m.contentSource.WithLabelValues(source).Set(1)
}

// SetContentBundle keeps a single series. An empty hash (disk content)
// clears it.
func (m *ServerMetrics) SetContentBundle(sha256 string) {
	m.contentBundleInfo.Reset()
	if sha256 != "" {
		m.contentBundleInfo.WithLabelValues(sha256).Set(1)
	}
}

func (m *ServerMetrics) SetContentLoadedTimestamp(t time.Time) {
	m.contentLoadedTimestamp.Set(float64(t.Unix()))
}

// The watcher methods satisfy content.WatcherMetrics.

func (m *ServerMetrics) IncWatcherPolls()                      { m.watcherPollsTotal.Inc() }
func (m *ServerMetrics) IncWatcherSwaps()                      { m.watcherSwapsTotal.Inc() }
func (m *ServerMetrics) IncWatcherError(errType string)        { m.watcherErrorsTotal.WithLabelValues(errType).Inc() }
func (m *ServerMetrics) ObserveBundleLoadDuration(sec float64) { m.bundleLoadDuration.Observe(sec) }
func (m *ServerMetrics) SetWatcherLastSuccess(unixSec float64) { m.watcherLastSuccessTs.Set(unixSec) }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
