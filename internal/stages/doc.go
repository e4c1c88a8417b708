// Package stages holds the small pipeline stages that do not parse bodies or
// serve files: the development access log, the demonstration stage and the
// security-headers stage.
package stages
