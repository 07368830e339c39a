// Package front implements the outward-facing HTTP server of the serving
// runtime. It exposes one inference endpoint per hosted application
// (POST /v1/{application}), kubernetes-style health probes under /health/
// and a Prometheus metrics endpoint.
//
// The server is a thin shim: requests are decoded, queued on the
// application's dispatcher and the correlated result is awaited with the
// request's context, so a disconnecting client releases its slot.
package front
