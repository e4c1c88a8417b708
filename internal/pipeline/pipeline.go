package pipeline

import (
	"fmt"
	"net/http"

	"github.com/keithlinneman/middleware-demo/internal/httpmw"
	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

// Outcome is the transition a stage asks for.
type Outcome int

const (
	// Continue passes the request to the next stage.
	Continue Outcome = iota
	// Respond means a response was produced and the chain stops.
	Respond
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Respond:
		return "respond"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Stage is one step of the pipeline.
type Stage struct {
	Name string
	Run  func(*Exchange) Outcome
}

// Observer is told the outcome of every stage that runs.
type Observer func(stage string, o Outcome)

type Option func(*Pipeline)

// WithTerminal replaces the 404 stage that runs when every stage continues.
func WithTerminal(s Stage) Option {
	return func(p *Pipeline) { p.terminal = s }
}

// WithObserver registers fn to see every stage outcome.
func WithObserver(fn Observer) Option {
	return func(p *Pipeline) { p.observer = fn }
}

// Pipeline is an immutable, ordered list of stages. It is safe for
// concurrent use.
type Pipeline struct {
	stages   []Stage
	terminal Stage
	observer Observer
}

// New validates the stages and returns a pipeline running them in order.
func New(stages []Stage, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		stages:   append([]Stage(nil), stages...),
		terminal: NotFound(),
	}
	for _, opt := range opts {
		opt(p)
	}

	seen := make(map[string]bool, len(p.stages)+1)
	for i, s := range append(append([]Stage(nil), p.stages...), p.terminal) {
		if s.Name == "" {
			return nil, xerrors.Newf("stage %d has no name", i)
		}
		if s.Run == nil {
			return nil, xerrors.Newf("stage %q has no Run func", s.Name)
		}
		if seen[s.Name] {
			return nil, xerrors.Newf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return p, nil
}

// Names lists the stage names in execution order, terminal last.
func (p *Pipeline) Names() []string {
	out := make([]string, 0, len(p.stages)+1)
	for _, s := range p.stages {
		out = append(out, s.Name)
	}
	return append(out, p.terminal.Name)
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ex := newExchange(w, r)
	defer ex.complete()

	for _, s := range p.stages {
		if p.run(ex, s) == Respond {
			return
		}
	}
	if p.run(ex, p.terminal) == Continue {
		// a terminal that produced nothing still owes the client an answer
		log.FromContext(ex.Context()).Warn(ex.Context(), "terminal stage continued without responding", "stage", p.terminal.Name)
		http.Error(ex.W, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

func (p *Pipeline) run(ex *Exchange, s Stage) Outcome {
	o := s.Run(ex)
	if o == Continue && ex.Written() {
		log.FromContext(ex.Context()).Warn(ex.Context(), "stage wrote a response but continued", "stage", s.Name)
		o = Respond
	}
	if o == Respond {
		route := ex.route
		if route == "" {
			route = s.Name
		}
		httpmw.SetRoute(ex.R, route)
	}
	if p.observer != nil {
		p.observer(s.Name, o)
	}
	return o
}

// NotFound is the default terminal stage.
func NotFound() Stage {
	return Stage{Name: "not-found", Run: func(ex *Exchange) Outcome {
		http.Error(ex.W, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return Respond
	}}
}
