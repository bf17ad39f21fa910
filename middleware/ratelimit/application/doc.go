// Package application holds the rate-limit and concurrency use cases.
//
// It depends only on package domain and knows nothing about net/http:
// Service.Decide(ctx, key) returns a Decision (allow/deny + retry-after).
package application
