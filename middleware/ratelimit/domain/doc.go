// Package domain defines the contracts and types of rate limiting and
// concurrency limiting.
//
// It depends on neither net/http nor any concrete store, so the rules can be
// unit tested in isolation and stores swapped without touching call sites.
package domain
