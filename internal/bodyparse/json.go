package bodyparse

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/keithlinneman/middleware-demo/internal/pipeline"
)

// JSONOptions configures the JSON stage. The zero value is usable.
type JSONOptions struct {
	// Limit is the maximum decoded body size, DefaultLimit when zero.
	Limit int64
	// AllowScalars accepts any JSON value at the top level. By default only
	// objects and arrays are accepted.
	AllowScalars bool
	OnResult     ResultFunc
}

const msgInvalidJSON = "invalid json body"

// IsJSON reports whether the media type is application/json or a +json type.
func IsJSON(mt string) bool {
	if mt == "application/json" {
		return true
	}
	slash := strings.IndexByte(mt, '/')
	return slash > 0 && strings.HasSuffix(mt[slash+1:], "+json")
}

// JSON returns the "json" stage.
func JSON(opts JSONOptions) pipeline.Stage {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	return pipeline.Stage{Name: "json", Run: func(ex *pipeline.Exchange) pipeline.Outcome {
		if _, done := ex.Body(); done || !hasBody(ex.R) {
			return pipeline.Continue
		}
		mt, charset := mediaType(ex.R)
		if !IsJSON(mt) {
			return pipeline.Continue
		}
		if e := checkCharset(charset); e != nil {
			return reject(ex, "json", e, opts.OnResult)
		}
		raw, e := readBody(ex, opts.Limit)
		if e != nil {
			return reject(ex, "json", e, opts.OnResult)
		}
		v, e := decodeJSON(raw, !opts.AllowScalars)
		if e != nil {
			return reject(ex, "json", e, opts.OnResult)
		}
		ex.SetBody(v)
		if opts.OnResult != nil {
			opts.OnResult("json", ResultParsed)
		}
		return pipeline.Continue
	}}
}

// decodeJSON decodes raw. A body of only whitespace decodes to an empty object.
func decodeJSON(raw []byte, strict bool) (any, *Error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	if strict && trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, &Error{Status: http.StatusBadRequest, Msg: msgInvalidJSON}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &Error{Status: http.StatusBadRequest, Msg: msgInvalidJSON, Err: err}
	}
	return v, nil
}
