package content

import (
	"io/fs"

	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

// ValidationOptions controls ValidateSnapshot. The zero value only checks
// that the snapshot has a filesystem.
type ValidationOptions struct {
	// MinFiles rejects trees with fewer files. 0 disables the check.
	MinFiles int
	// RequireIndex demands a non-empty index.html at the root.
	RequireIndex bool
}

// DefaultValidationOptions are applied to bundles before they replace live
// content.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{MinFiles: 1, RequireIndex: true}
}

// ValidateSnapshot returns the first problem found with snap, or nil.
func ValidateSnapshot(snap *Snapshot, opts ValidationOptions) error {
	if snap == nil {
		return xerrors.New("validate: snapshot is nil")
	}
	if snap.FS == nil {
		return xerrors.New("validate: snapshot has nil filesystem")
	}
	if opts.RequireIndex {
		info, err := fs.Stat(snap.FS, "index.html")
		if err != nil {
			return xerrors.Wrap(err, "validate: index.html not found")
		}
		if info.IsDir() || info.Size() == 0 {
			return xerrors.New("validate: index.html is empty")
		}
	}
	if opts.MinFiles > 0 {
		n := 0
		err := fs.WalkDir(snap.FS, ".", func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				n++
			}
			return nil
		})
		if err != nil {
			return xerrors.Wrap(err, "validate: counting files")
		}
		if n < opts.MinFiles {
			return xerrors.Newf("validate: bundle has %d files, minimum is %d", n, opts.MinFiles)
		}
	}
	return nil
}
