package static

import (
	"io/fs"
	"path"
	"strings"

	"github.com/keithlinneman/middleware-demo/internal/pathutil"
)

// resolvePath maps a URL path onto a file in fsys.
//
// It returns the file to serve, or a canonical URL path to redirect to, or
// ok=false when nothing matches.
func resolvePath(urlPath, index string, fsys fs.FS) (file, redirectTo string, ok bool) {
	p := urlPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !pathutil.Servable(p) {
		return "", "", false
	}

	trailingSlash := strings.HasSuffix(p, "/")
	clean := path.Clean(p)

	if clean == "/" || trailingSlash {
		name := path.Join(strings.TrimPrefix(clean, "/"), index)
		if existsFile(fsys, name) {
			return name, "", true
		}
		return "", "", false
	}

	name := strings.TrimPrefix(clean, "/")
	if existsFile(fsys, name) {
		return name, "", true
	}
	if existsFile(fsys, name+"/"+index) {
		return "", clean + "/", true
	}
	return "", "", false
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
