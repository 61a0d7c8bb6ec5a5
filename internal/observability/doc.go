// Package observability exposes tracker metrics and an optional local HTTP
// endpoint serving /metrics, /healthz and pprof.
package observability
