// Package httpserver runs an http.Handler with graceful shutdown bound to a
// context, so it can be supervised by an errgroup next to other workers.
// HealthCheckHandler aggregates dependency probes for /healthz.
package httpserver
