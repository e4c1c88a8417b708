package content

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"
	"testing/fstest"

	"github.com/klauspost/compress/gzip"

	"github.com/keithlinneman/middleware-demo/internal/pathutil"
	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

const (
	maxBundleSize   int64 = 50 << 20
	maxSingleFile   int64 = 10 << 20
	maxTotalExtract int64 = 100 << 20
)

// readWithHash reads r up to maxSize bytes, hashing as it goes.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(io.LimitReader(r, maxSize+1), h))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxSize {
		return nil, "", xerrors.Newf("bundle exceeds max size (limit %d bytes)", maxSize)
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// hashEqual compares hex digests in constant time, ignoring case.
func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(strings.ToLower(b))) == 1
}

// ValidHash reports whether h looks like a hex sha256 digest.
func ValidHash(h string) bool {
	if len(h) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// extractTarGz unpacks a gzipped tarball into memory. Only regular files and
// directories are accepted.
func extractTarGz(data []byte) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(err, "open gzip")
	}
	defer gr.Close()

	mfs := make(fstest.MapFS)
	tr := tar.NewReader(gr)
	var total int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(err, "read tar header")
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if name == "" || name == "." {
			continue
		}
		if path.IsAbs(name) || strings.Contains(name, "\\") || pathutil.HasDotSegments(name) {
			return nil, xerrors.Newf("unsafe path in archive: %q", hdr.Name)
		}
		name = path.Clean(name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
			if hdr.Size > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size (%d > %d)", name, hdr.Size, maxSingleFile)
			}
			b, err := io.ReadAll(io.LimitReader(tr, maxSingleFile+1))
			if err != nil {
				return nil, xerrors.Wrapf(err, "read %s", name)
			}
			if int64(len(b)) > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size after read", name)
			}
			total += int64(len(b))
			if total > maxTotalExtract {
				return nil, xerrors.Newf("extracted content exceeds %d bytes", maxTotalExtract)
			}
			mfs[name] = &fstest.MapFile{Data: b, Mode: hdr.FileInfo().Mode().Perm(), ModTime: hdr.ModTime}
		default:
			return nil, xerrors.Newf("unsupported entry type %d for %s", hdr.Typeflag, name)
		}
	}
	return mfs, nil
}
