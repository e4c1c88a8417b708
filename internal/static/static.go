package static

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"

	"github.com/keithlinneman/middleware-demo/internal/pipeline"
	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

// StageName is the name the stage registers in the pipeline.
const StageName = "static"

type handler struct {
	opts Options
}

// New returns the static stage reading from opts.Content.
func New(opts Options) (pipeline.Stage, error) {
	if opts.Content == nil {
		return pipeline.Stage{}, fmt.Errorf("%w: Content is nil", ErrInvalidOptions)
	}
	opts.setDefaults()
	h := &handler{opts: opts}
	return pipeline.Stage{Name: StageName, Run: h.run}, nil
}

func (h *handler) run(ex *pipeline.Exchange) pipeline.Outcome {
	r := ex.R
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return pipeline.Continue
	}

	snap, ok := h.opts.Content.Get()
	if !ok {
		return pipeline.Continue
	}

	file, redirectTo, found := resolvePath(r.URL.Path, h.opts.Index, snap.FS)
	if redirectTo != "" {
		// 308 keeps the method
		target := (&url.URL{Path: redirectTo, RawQuery: r.URL.RawQuery}).String()
		http.Redirect(ex.W, r, target, http.StatusPermanentRedirect)
		return pipeline.Respond
	}
	if !found {
		return pipeline.Continue
	}

	if cc := cacheControlForFile(file, &h.opts); cc != "" {
		ex.W.Header().Set("Cache-Control", cc)
	}
	if err := serveFile(ex.W, r, snap.FS, file); err != nil {
		ctx := ex.Context()
		h.opts.Logger.Warn(ctx, "static file unreadable", "file", file, "error", err.Error())
		ex.W.Header().Del("Cache-Control")
		return pipeline.Continue
	}
	return pipeline.Respond
}

// serveFile writes name from fsys through http.ServeContent. Files that
// cannot seek are buffered. Nothing is written when an error is returned.
func serveFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, name string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return xerrors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return xerrors.Wrapf(err, "stat %s", name)
	}
	if info.IsDir() {
		return xerrors.Newf("%s is a directory", name)
	}

	rs, ok := f.(io.ReadSeeker)
	if !ok {
		b, err := io.ReadAll(f)
		if err != nil {
			return xerrors.Wrapf(err, "read %s", name)
		}
		rs = bytes.NewReader(b)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), rs)
	return nil
}
