// Package server hosts the upload gate and the retrieval resolver behind a
// single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// metrics, and rate limiting so handlers all share common protections and
// instrumentation.
package server
