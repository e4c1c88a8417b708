package static

import (
	"errors"

	"github.com/keithlinneman/middleware-demo/internal/content"
	"github.com/keithlinneman/middleware-demo/internal/log"
)

// ErrInvalidOptions wraps every New validation failure.
var ErrInvalidOptions = errors.New("static: invalid options")

// SnapshotProvider is satisfied by *content.Manager.
type SnapshotProvider interface {
	Get() (*content.Snapshot, bool)
}

type Options struct {
	Logger  log.Logger
	Content SnapshotProvider

	// Index is served for directory requests. Default "index.html".
	Index string

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Index == "" {
		o.Index = "index.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}
