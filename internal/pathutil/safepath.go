// Package pathutil has the request path checks shared by the static stage
// and the content loaders.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// HasHiddenSegments reports whether any segment starts with a dot. Dot
// segments count as hidden.
func HasHiddenSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// Servable reports whether a URL path may be mapped onto a content tree: no
// NUL bytes, no backslashes, no dot or hidden segments.
func Servable(p string) bool {
	if strings.ContainsAny(p, "\x00\\") {
		return false
	}
	return !HasHiddenSegments(p)
}
