package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/middleware-demo/internal/httpmw"
)

const (
	DefaultPerSecond = 10
	DefaultBurst     = 30
	DefaultTTL       = 5 * time.Minute

	// DefaultMaxClients bounds the bucket map; 0 disables the bound.
	DefaultMaxClients = 100_000
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// reported is set after the first denial so OnFirstDenied fires once
	// per bucket lifetime
	reported bool
}

// IPLimiter holds one token bucket per client address.
type IPLimiter struct {
	mu      sync.Mutex
	clients map[string]*client

	perSecond  rate.Limit
	burst      int
	ttl        time.Duration
	maxClients int

	onFirstDenied func(ip string)
	onDenied      func(ip string)
	onCapacity    func()
}

type Option func(*IPLimiter)

// WithRate sets the refill rate and bucket size: WithRate(10, 30) admits 30
// requests at once and then 10 per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle client keeps its bucket.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) { l.ttl = d }
}

// WithMaxClients bounds how many buckets are tracked. Once full, new
// clients are denied until idle buckets are evicted. n <= 0 is unbounded.
func WithMaxClients(n int) Option {
	return func(l *IPLimiter) { l.maxClients = n }
}

// WithOnCapacity runs when a new client is denied because the map is full.
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) { l.onCapacity = fn }
}

// WithOnFirstDenied runs once per bucket, the first time it is denied.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onFirstDenied = fn }
}

// WithOnDenied runs on every denial.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onDenied = fn }
}

// New returns a limiter whose eviction loop stops with ctx.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		clients:    make(map[string]*client),
		perSecond:  DefaultPerSecond,
		burst:      DefaultBurst,
		ttl:        DefaultTTL,
		maxClients: DefaultMaxClients,
	}
	for _, o := range opts {
		o(l)
	}
	go l.evict(ctx)
	return l
}

func (l *IPLimiter) allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		if l.maxClients > 0 && len(l.clients) >= l.maxClients {
			l.mu.Unlock()
			if l.onCapacity != nil {
				l.onCapacity()
			}
			if l.onDenied != nil {
				l.onDenied(ip)
			}
			return false
		}
		c = &client{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	allowed := c.limiter.Allow()
	first := !allowed && !c.reported
	if first {
		c.reported = true
	}
	l.mu.Unlock()

	// hooks run unlocked, they may log
	if first && l.onFirstDenied != nil {
		l.onFirstDenied(ip)
	}
	if !allowed && l.onDenied != nil {
		l.onDenied(ip)
	}
	return allowed
}

func (l *IPLimiter) evict(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, c := range l.clients {
				if now.Sub(c.lastSeen) > l.ttl {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *IPLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// retryAfter is the whole seconds until one token refills.
func (l *IPLimiter) retryAfter() int {
	if l.perSecond <= 0 || l.perSecond == rate.Inf {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(l.perSecond))))
}

type errorBody struct {
	Error string `json:"error"`
}

// Middleware answers 429 once a client's bucket is empty. The body does not
// reveal the limit or the remaining budget.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())
		if l.allow(ip) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(errorBody{Error: "too many requests"})
	})
}
