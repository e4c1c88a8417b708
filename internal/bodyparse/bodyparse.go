package bodyparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/pipeline"
	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

// DefaultLimit is the body size limit used when an option leaves it zero.
const DefaultLimit int64 = 100 << 10

// Result labels reported through ResultFunc.
const (
	ResultParsed      = "parsed"
	ResultInvalid     = "invalid"
	ResultTooLarge    = "too_large"
	ResultUnsupported = "unsupported"
	ResultAborted     = "aborted"
)

// ResultFunc receives the parser name and one of the Result labels for every
// body a stage tried to decode.
type ResultFunc func(parser, result string)

// Error is a client error raised while reading or decoding a body.
type Error struct {
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) result() string {
	switch e.Status {
	case http.StatusRequestEntityTooLarge:
		return ResultTooLarge
	case http.StatusUnsupportedMediaType:
		return ResultUnsupported
	case http.StatusBadRequest:
		if e.Msg == msgAborted {
			return ResultAborted
		}
	}
	return ResultInvalid
}

const (
	msgTooLarge = "request entity too large"
	msgAborted  = "request aborted"
)

func tooLarge(err error) *Error {
	return &Error{Status: http.StatusRequestEntityTooLarge, Msg: msgTooLarge, Err: err}
}

// mediaType returns the lower-cased media type and charset of r.
func mediaType(r *http.Request) (mt, charset string) {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(ct)
	if err != nil {
		// keep the bare type so a bad parameter still routes to the parser
		mt = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
		return strings.ToLower(mt), ""
	}
	return mt, strings.ToLower(params["charset"])
}

func checkCharset(charset string) *Error {
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return nil
	}
	return &Error{Status: http.StatusUnsupportedMediaType, Msg: fmt.Sprintf("unsupported charset %q", strings.ToUpper(charset))}
}

// hasBody follows net/http: a known zero length or NoBody means no body.
func hasBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	return r.ContentLength != 0
}

// readBody reads at most limit decoded bytes and puts the raw bytes back on
// the request so later handlers can read it again.
func readBody(ex *pipeline.Exchange, limit int64) ([]byte, *Error) {
	r := ex.R
	enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
	if (enc == "" || enc == "identity") && r.ContentLength > limit {
		return nil, tooLarge(xerrors.Newf("content-length %d exceeds %d", r.ContentLength, limit))
	}

	var src io.Reader = r.Body
	switch enc {
	case "", "identity":
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, readError(err)
		}
		defer zr.Close()
		src = zr
	case "deflate":
		zr, err := zlib.NewReader(r.Body)
		if err != nil {
			return nil, readError(err)
		}
		defer zr.Close()
		src = zr
	default:
		return nil, &Error{Status: http.StatusUnsupportedMediaType, Msg: fmt.Sprintf("unsupported content encoding %q", enc)}
	}

	raw, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, readError(err)
	}
	if int64(len(raw)) > limit {
		return nil, tooLarge(xerrors.Newf("body exceeds %d bytes", limit))
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

func readError(err error) *Error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return tooLarge(err)
	}
	if errors.Is(err, gzip.ErrHeader) || errors.Is(err, gzip.ErrChecksum) || errors.Is(err, zlib.ErrHeader) || errors.Is(err, zlib.ErrChecksum) {
		return &Error{Status: http.StatusBadRequest, Msg: "invalid content encoding", Err: err}
	}
	return &Error{Status: http.StatusBadRequest, Msg: msgAborted, Err: err}
}

// reject answers the client error as JSON and ends the chain.
func reject(ex *pipeline.Exchange, parser string, e *Error, report ResultFunc) pipeline.Outcome {
	ctx := ex.Context()
	log.FromContext(ctx).Debug(ctx, "request body rejected",
		"parser", parser,
		"http.response.status_code", e.Status,
		"reason", e.Error(),
	)
	if report != nil {
		report(parser, e.result())
	}
	writeJSONError(ex.W, e.Status, e.Msg)
	return pipeline.Respond
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		b = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}
