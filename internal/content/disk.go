package content

import (
	"os"
	"path/filepath"
	"time"

	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

// LoadDir returns a snapshot reading live from dir. Edits to files under dir
// are visible on the next request.
func LoadDir(dir string) (*Snapshot, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "resolve static dir %q", dir)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat static dir %q", abs)
	}
	if !info.IsDir() {
		return nil, xerrors.Newf("static dir %q is not a directory", abs)
	}
	return &Snapshot{
		FS: os.DirFS(abs),
		Meta: Meta{
			Location: abs,
			Source:   SourceDisk,
		},
		LoadedAt: time.Now().UTC(),
	}, nil
}
