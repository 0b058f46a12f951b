// Package server hosts the Fiber HTTP service, request middleware chain, and
// the shared upstream HTTP client. It attaches the request-ID and recover
// middlewares, routes every non-diagnostics path into the gateway handler,
// and exposes header helpers (hop-by-hop stripping, host normalization) that
// both the gateway and the lifecycle prefetcher reuse. Keep exports narrow
// and accept explicit dependencies.
package server
