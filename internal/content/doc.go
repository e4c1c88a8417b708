// Package content supplies the file tree the static stage serves.
//
// A [Snapshot] is an immutable fs.FS plus metadata. The [Manager] holds the
// active snapshot behind an atomic pointer so requests never lock. Snapshots
// come from a local directory ([LoadDir]) or from a sha256-pinned tar.gz
// bundle in S3 ([Loader]), whose hash is read from SSM or configured
// directly. The [Watcher] polls SSM and swaps in new bundles after they pass
// [ValidateSnapshot].
//
// Bundle extraction is bounded: compressed size, per-file size and total
// extracted size are capped, and entries that would escape the tree are
// rejected.
package content
