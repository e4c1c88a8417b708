// Package health holds the probes behind the admin listener's liveness and
// readiness endpoints.
//
// Probes compose with [All] and [Any]. [ShutdownGate] fails readiness as soon
// as a drain begins so load balancers stop routing to the process before the
// request pipeline is shut down.
package health
