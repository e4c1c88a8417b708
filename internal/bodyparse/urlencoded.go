package bodyparse

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/middleware-demo/internal/pipeline"
)

// FormOptions configures the URL-encoded stage. Zero fields take the
// defaults noted on each.
type FormOptions struct {
	// Limit is the maximum decoded body size, DefaultLimit when zero.
	Limit int64
	// ParameterLimit defaults to 1000.
	ParameterLimit int
	// Depth defaults to 32.
	Depth int
	// ArrayLimit defaults to max(100, parameter count).
	ArrayLimit int
	OnResult   ResultFunc
}

const (
	DefaultParameterLimit = 1000
	DefaultDepth          = 32
)

// URLEncoded returns the "urlencoded" stage, which expands bracketed keys
// into nested objects and arrays (see ParseExtended).
func URLEncoded(opts FormOptions) pipeline.Stage {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.ParameterLimit <= 0 {
		opts.ParameterLimit = DefaultParameterLimit
	}
	if opts.Depth <= 0 {
		opts.Depth = DefaultDepth
	}
	ext := ExtendedOptions{ParameterLimit: opts.ParameterLimit, Depth: opts.Depth, ArrayLimit: opts.ArrayLimit}

	return pipeline.Stage{Name: "urlencoded", Run: func(ex *pipeline.Exchange) pipeline.Outcome {
		if _, done := ex.Body(); done || !hasBody(ex.R) {
			return pipeline.Continue
		}
		mt, charset := mediaType(ex.R)
		if mt != "application/x-www-form-urlencoded" {
			return pipeline.Continue
		}
		if e := checkCharset(charset); e != nil {
			return reject(ex, "urlencoded", e, opts.OnResult)
		}
		raw, e := readBody(ex, opts.Limit)
		if e != nil {
			return reject(ex, "urlencoded", e, opts.OnResult)
		}
		v, err := ParseExtended(string(raw), ext)
		if err != nil {
			var pe *Error
			if !errors.As(err, &pe) {
				pe = &Error{Status: http.StatusBadRequest, Msg: "invalid urlencoded body", Err: err}
			}
			return reject(ex, "urlencoded", pe, opts.OnResult)
		}
		ex.SetBody(v)
		if opts.OnResult != nil {
			opts.OnResult("urlencoded", ResultParsed)
		}
		return pipeline.Continue
	}}
}
