package content

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/middleware-demo/internal/log/logtest"
)

type spyMetrics struct {
	mu    sync.Mutex
	polls int
	swaps int
	errs  map[string]int
	loads int
	last  float64
}

func (s *spyMetrics) IncWatcherPolls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
}

func (s *spyMetrics) IncWatcherSwaps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps++
}

func (s *spyMetrics) IncWatcherError(errType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = map[string]int{}
	}
	s.errs[errType]++
}

func (s *spyMetrics) ObserveBundleLoadDuration(float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
}

func (s *spyMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = unixSeconds
}

type watcherFixture struct {
	s3      *fakeS3
	ssm     *fakeSSM
	mgr     *Manager
	metrics *spyMetrics
	swapped []*Snapshot
	w       *Watcher
}

func newWatcherFixture(t *testing.T, seed map[string]string) *watcherFixture {
	t.Helper()
	f := &watcherFixture{s3: newFakeS3(), ssm: &fakeSSM{}, mgr: NewManager(), metrics: &spyMetrics{}}
	loader := newTestLoader(t, f.s3, f.ssm)
	if seed != nil {
		hash := storeBundle(t, f.s3, seed, "seed")
		f.ssm.set(hash)
		snap, err := loader.LoadHash(t.Context(), hash)
		if err != nil {
			t.Fatalf("seed LoadHash: %v", err)
		}
		f.mgr.Set(*snap)
	}
	f.w = NewWatcher(WatcherOptions{
		Loader:       loader,
		Manager:      f.mgr,
		PollInterval: 30 * time.Second,
		Metrics:      f.metrics,
		OnSwap:       func(s *Snapshot) { f.swapped = append(f.swapped, s) },
	})
	return f
}

func TestWatcher_SeedsCurrentHash(t *testing.T) {
	f := newWatcherFixture(t, map[string]string{"index.html": "seed"})
	snap, _ := f.mgr.Get()
	if f.w.currentHash != snap.Meta.SHA256 {
		t.Fatalf("currentHash = %q, want %q", f.w.currentHash, snap.Meta.SHA256)
	}
}

func TestWatcher_NoChange(t *testing.T) {
	f := newWatcherFixture(t, map[string]string{"index.html": "seed"})
	gets := f.s3.gets
	if got := f.w.checkOnce(t.Context()); got != pollNoChange {
		t.Fatalf("result = %v, want pollNoChange", got)
	}
	if f.s3.gets != gets {
		t.Fatal("unchanged hash should not download")
	}
	if f.metrics.polls != 1 || f.metrics.swaps != 0 || f.metrics.last == 0 {
		t.Fatalf("polls=%d swaps=%d last=%v", f.metrics.polls, f.metrics.swaps, f.metrics.last)
	}
}

func TestWatcher_Swap(t *testing.T) {
	f := newWatcherFixture(t, map[string]string{"index.html": "seed"})
	next := storeBundle(t, f.s3, map[string]string{"index.html": "next"}, "v2")
	f.ssm.set(next)

	if got := f.w.checkOnce(t.Context()); got != pollSwapped {
		t.Fatalf("result = %v, want pollSwapped", got)
	}
	snap, _ := f.mgr.Get()
	b, _ := fs.ReadFile(snap.FS, "index.html")
	if string(b) != "next" || snap.Meta.Version != "v2" {
		t.Fatalf("active = %q %q", b, snap.Meta.Version)
	}
	if f.w.currentHash != next {
		t.Fatal("currentHash not advanced")
	}
	if len(f.swapped) != 1 || f.swapped[0].Meta.SHA256 != next {
		t.Fatalf("OnSwap calls = %d", len(f.swapped))
	}
	if f.metrics.swaps != 1 || f.metrics.loads != 1 {
		t.Fatalf("swaps=%d loads=%d", f.metrics.swaps, f.metrics.loads)
	}
}

func TestWatcher_FetchError(t *testing.T) {
	f := newWatcherFixture(t, map[string]string{"index.html": "seed"})
	f.ssm.err = errors.New("ssm down")
	if got := f.w.checkOnce(t.Context()); got != pollFetchError {
		t.Fatalf("result = %v", got)
	}
	if f.metrics.errs["fetch"] != 1 {
		t.Fatalf("errs = %v", f.metrics.errs)
	}
}

func TestWatcher_LoadErrorKeepsContent(t *testing.T) {
	f := newWatcherFixture(t, map[string]string{"index.html": "seed"})
	before, _ := f.mgr.Get()
	f.ssm.set(sha256hex([]byte("not uploaded")))

	if got := f.w.checkOnce(t.Context()); got != pollLoadError {
		t.Fatalf("result = %v", got)
	}
	after, _ := f.mgr.Get()
	if after != before {
		t.Fatal("active snapshot replaced after failed load")
	}
	if f.metrics.errs["load"] != 1 {
		t.Fatalf("errs = %v", f.metrics.errs)
	}
}

func TestWatcher_ValidationErrorKeepsContent(t *testing.T) {
	f := newWatcherFixture(t, map[string]string{"index.html": "seed"})
	bad := storeBundle(t, f.s3, map[string]string{"app.js": "no index"}, "bad")
	f.ssm.set(bad)

	if got := f.w.checkOnce(t.Context()); got != pollValidationError {
		t.Fatalf("result = %v", got)
	}
	snap, _ := f.mgr.Get()
	if snap.Meta.Version != "seed" {
		t.Fatalf("active version = %q", snap.Meta.Version)
	}
	if len(f.swapped) != 0 {
		t.Fatal("OnSwap called for rejected bundle")
	}
	if f.metrics.errs["validation"] != 1 {
		t.Fatalf("errs = %v", f.metrics.errs)
	}
}

func TestWatcher_OnSwapPanicRecovered(t *testing.T) {
	f := newWatcherFixture(t, map[string]string{"index.html": "seed"})
	rec := logtest.New()
	f.w.opts.Logger = rec.Logger()
	f.w.opts.OnSwap = func(*Snapshot) { panic("boom") }
	f.ssm.set(storeBundle(t, f.s3, map[string]string{"index.html": "next"}, "v2"))

	if got := f.w.checkOnce(t.Context()); got != pollSwapped {
		t.Fatalf("result = %v", got)
	}
	if _, ok := rec.Find("OnSwap callback panicked"); !ok {
		t.Fatalf("panic not logged: %v", rec.Messages())
	}
}

func TestWatcher_Backoff(t *testing.T) {
	w := &Watcher{opts: WatcherOptions{PollInterval: 30 * time.Second}}
	tests := []struct {
		streak int
		want   time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, maxBackoff},
		{20, maxBackoff},
	}
	for _, tt := range tests {
		w.errStreak = tt.streak
		if got := w.backoff(); got != tt.want {
			t.Errorf("streak %d: backoff = %v, want %v", tt.streak, got, tt.want)
		}
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	f := newWatcherFixture(t, map[string]string{"index.html": "seed"})
	f.w.opts.PollInterval = time.Millisecond
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- f.w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		f.metrics.mu.Lock()
		polls := f.metrics.polls
		f.metrics.mu.Unlock()
		if polls >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher did not poll")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewWatcher_Defaults(t *testing.T) {
	w := NewWatcher(WatcherOptions{Manager: NewManager()})
	if w.opts.PollInterval != DefaultPollInterval {
		t.Fatalf("PollInterval = %v", w.opts.PollInterval)
	}
	if w.validation != DefaultValidationOptions() {
		t.Fatalf("validation = %+v", w.validation)
	}
	if w.currentHash != "" {
		t.Fatal("currentHash should be empty without a snapshot")
	}
}
