// Package pipeline runs an HTTP request through a fixed, ordered list of
// stages.
//
// Each stage returns an Outcome: Continue hands the request to the next
// stage, Respond ends the chain. A stage cannot forget to continue the way a
// continuation-style middleware can; FromMiddleware adapts those and answers
// 500 when one neither calls next nor writes a response. When every stage
// continues, the terminal stage runs (404 unless WithTerminal replaces it).
package pipeline
