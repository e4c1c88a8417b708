package content

import (
	"context"
	"time"

	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

const (
	DefaultPollInterval = 30 * time.Second
	maxBackoff          = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollFetchError
	pollLoadError
	pollValidationError
)

// BundleFetcher is what the Watcher needs from a Loader.
type BundleFetcher interface {
	FetchCurrentBundleHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Snapshot, error)
}

// WatcherMetrics is implemented by *metrics.ServerMetrics.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	ObserveBundleLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
}

type WatcherOptions struct {
	Logger       log.Logger
	Loader       BundleFetcher
	Manager      *Manager
	PollInterval time.Duration
	// Validation defaults to DefaultValidationOptions.
	Validation *ValidationOptions
	Metrics    WatcherMetrics
	// OnSwap runs on the poll goroutine after each swap.
	OnSwap func(*Snapshot)
}

// Watcher polls for a new bundle hash and swaps validated bundles into the
// Manager. Fetch errors back off exponentially up to five minutes.
type Watcher struct {
	opts        WatcherOptions
	validation  ValidationOptions
	currentHash string
	errStreak   int
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	w := &Watcher{opts: opts, validation: DefaultValidationOptions()}
	if opts.Validation != nil {
		w.validation = *opts.Validation
	}
	if snap, ok := opts.Manager.Get(); ok {
		w.currentHash = snap.Meta.SHA256
	}
	return w
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	L := w.opts.Logger
	L.Info(ctx, "content watcher starting",
		"poll_interval", w.opts.PollInterval.String(),
		"current_hash", shortHash(w.currentHash),
	)
	t := time.NewTimer(w.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			L.Info(ctx, "content watcher stopping")
			return ctx.Err()
		case <-t.C:
			next := w.opts.PollInterval
			if w.checkOnce(ctx) == pollFetchError {
				w.errStreak++
				next = w.backoff()
				L.Warn(ctx, "content watcher backing off", "consecutive_errors", w.errStreak, "next_poll_in", next.String())
			} else {
				w.errStreak = 0
			}
			t.Reset(next)
		}
	}
}

func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	L := w.opts.Logger
	m := w.opts.Metrics
	if m != nil {
		m.IncWatcherPolls()
	}

	hash, err := w.opts.Loader.FetchCurrentBundleHash(ctx)
	if err != nil {
		L.Error(ctx, err, "content watcher: hash poll failed")
		if m != nil {
			m.IncWatcherError("fetch")
		}
		return pollFetchError
	}
	if m != nil {
		m.SetWatcherLastSuccess(float64(time.Now().Unix()))
	}
	if hashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	start := time.Now()
	snap, err := w.opts.Loader.LoadHash(ctx, hash)
	if m != nil {
		m.ObserveBundleLoadDuration(time.Since(start).Seconds())
	}
	if err != nil {
		L.Error(ctx, err, "content watcher: failed to load bundle", "sha256", shortHash(hash))
		if m != nil {
			m.IncWatcherError("load")
		}
		return pollLoadError
	}
	if err := ValidateSnapshot(snap, w.validation); err != nil {
		L.Error(ctx, err, "content watcher: bundle failed validation, keeping current content",
			"rejected_hash", shortHash(hash),
			"current_hash", shortHash(w.currentHash),
		)
		if m != nil {
			m.IncWatcherError("validation")
		}
		return pollValidationError
	}

	w.opts.Manager.Set(*snap)
	L.Info(ctx, "content watcher: bundle swapped",
		"old_hash", shortHash(w.currentHash),
		"new_hash", shortHash(hash),
		"version", snap.Meta.Version,
	)
	w.currentHash = hash
	if m != nil {
		m.IncWatcherSwaps()
	}
	if w.opts.OnSwap != nil {
		w.notify(ctx, snap)
	}
	return pollSwapped
}

func (w *Watcher) notify(ctx context.Context, snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			w.opts.Logger.Error(ctx, xerrors.Newf("OnSwap panic: %v", r), "content watcher: OnSwap callback panicked")
		}
	}()
	w.opts.OnSwap(snap)
}

// backoff doubles the interval per consecutive error, capped at maxBackoff.
func (w *Watcher) backoff() time.Duration {
	d := w.opts.PollInterval
	for i := 0; i < w.errStreak && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
