// Package ratelimit provides the net/http adapters for rate limiting and the
// in-flight concurrency cap.
//
// Layers:
//
//   - domain: contracts and types, no net/http
//   - application: use cases (allow/deny, acquire with timeout), no net/http
//   - infra: concrete stores (sliding window in memory or Redis, token
//     bucket, semaphore, stats)
//   - ratelimit (this package): HTTP middlewares, client key extraction and
//     translation of decisions into status codes and headers
//
// In the gateway chain the rate limiter runs right after correlation
// assignment and before any authentication, so floods are rejected with 429
// before they reach the token verifier or a downstream service.
package ratelimit
