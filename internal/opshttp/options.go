package opshttp

import (
	"net/http"

	"github.com/keithlinneman/middleware-demo/internal/health"
)

const DefaultPort = 9000

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic runs after a panic in an admin handler was recovered.
	OnPanic func()
}
