package content

import (
	"io/fs"
	"testing/fstest"
	"time"
)

// Source says where the files of a snapshot come from.
type Source string

const (
	SourceUnknown Source = "unknown" // nothing loaded yet
	SourceEmpty   Source = "empty"
	SourceDisk    Source = "disk"
	SourceS3      Source = "s3"
)

// Meta identifies a snapshot. Bundles from S3 carry their sha256 and the
// version stored in the object metadata; disk snapshots only a location.
type Meta struct {
	Version    string
	SHA256     string
	Location   string
	VerifiedAt time.Time
	Source     Source
}

// Snapshot is an immutable tree of static files. The static stage reads
// whichever snapshot the Manager holds when a request arrives.
type Snapshot struct {
	FS       fs.FS
	Meta     Meta
	LoadedAt time.Time
}

// Empty is a snapshot with no files. Every static lookup misses, so requests
// fall through to the later stages.
func Empty() *Snapshot {
	return &Snapshot{FS: fstest.MapFS{}, Meta: Meta{Source: SourceEmpty}}
}
