package static

import (
	"path"
	"strings"
)

func cacheControlForFile(name string, o *Options) string {
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".html", ".htm", "":
		// no extension is treated like html
		return o.HTMLCacheControl
	case ".css", ".js", ".mjs",
		".png", ".jpg", ".jpeg", ".webp", ".avif", ".gif", ".svg", ".ico",
		".woff", ".woff2", ".ttf", ".eot",
		".map":
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
