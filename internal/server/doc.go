// Package server hosts the video API behind a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// metrics, rate limiting, CORS, and security headers so handlers all share
// common protections and instrumentation.
package server
