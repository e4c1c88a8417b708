// Package httpmw holds the net/http middleware that wraps the request
// pipeline: security headers, panic recovery, request IDs, client address
// extraction, body caps, request-scoped loggers and route labelling.
//
// httpserver.NewHandler fixes the order. Security headers sit outermost so
// every response carries them, including 404s, 413s and recovered panics.
// Query strings and user agents stay out of request-scoped log fields.
package httpmw
