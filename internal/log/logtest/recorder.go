// Package logtest provides a log.Logger that records entries for assertions.
package logtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/keithlinneman/middleware-demo/internal/log"
)

// Entry is one recorded log call. Fields include those added with With.
type Entry struct {
	Level  string
	Msg    string
	Err    error
	Fields map[string]any
}

// Recorder is safe for concurrent use. Loggers derived with With share the
// same entry list.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func New() *Recorder { return &Recorder{} }

// Logger returns a log.Logger writing into r.
func (r *Recorder) Logger() log.Logger { return &recLogger{rec: r} }

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Messages returns the recorded messages in order.
func (r *Recorder) Messages() []string {
	var out []string
	for _, e := range r.Entries() {
		out = append(out, e.Msg)
	}
	return out
}

// Find returns the first entry whose message contains sub.
func (r *Recorder) Find(sub string) (Entry, bool) {
	for _, e := range r.Entries() {
		if strings.Contains(e.Msg, sub) {
			return e, true
		}
	}
	return Entry{}, false
}

// Count returns how many messages contain sub.
func (r *Recorder) Count(sub string) int {
	n := 0
	for _, e := range r.Entries() {
		if strings.Contains(e.Msg, sub) {
			n++
		}
	}
	return n
}

func (r *Recorder) add(e Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

type recLogger struct {
	rec    *Recorder
	fields []any
}

func (l *recLogger) With(kv ...any) log.Logger {
	f := make([]any, 0, len(l.fields)+len(kv))
	f = append(f, l.fields...)
	f = append(f, kv...)
	return &recLogger{rec: l.rec, fields: f}
}

func (l *recLogger) Debug(_ context.Context, msg string, kv ...any) { l.log("debug", nil, msg, kv) }
func (l *recLogger) Info(_ context.Context, msg string, kv ...any)  { l.log("info", nil, msg, kv) }
func (l *recLogger) Warn(_ context.Context, msg string, kv ...any)  { l.log("warn", nil, msg, kv) }
func (l *recLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.log("error", err, msg, kv)
}
func (l *recLogger) Sync() error { return nil }

func (l *recLogger) log(level string, err error, msg string, kv []any) {
	fields := make(map[string]any)
	all := append(append([]any{}, l.fields...), kv...)
	for i := 0; i+1 < len(all); i += 2 {
		fields[fmt.Sprint(all[i])] = all[i+1]
	}
	l.rec.add(Entry{Level: level, Msg: msg, Err: err, Fields: fields})
}
