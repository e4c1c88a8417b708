// Package static is the file-serving stage. It answers GET and HEAD requests
// that map onto a file in the active content snapshot and lets every other
// request continue down the pipeline.
//
// Lookup rules:
//
//   - "/" and paths ending in "/" serve the directory's index.html
//   - a directory requested without the trailing slash is redirected (308)
//     when it has an index.html
//   - paths with NUL, backslashes, dot segments or dot-prefixed (hidden)
//     segments never match
//
// Content type, byte ranges and conditional requests are handled by
// http.ServeContent. Cache-Control is chosen from the file extension.
package static
