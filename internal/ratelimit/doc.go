// Package ratelimit is a per-client token bucket placed in front of the
// pipeline. Clients are keyed by the address httpmw.ClientIP resolved, and
// idle buckets are evicted in the background.
//
// It is in-memory and per-process. It keeps one client from exhausting the
// server; distributed floods need filtering upstream.
package ratelimit
