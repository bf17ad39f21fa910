// Package infra holds the concrete stores behind the domain contracts.
//
//   - SlidingWindowStore: in-memory sliding-window log per client key
//   - RedisWindowStore: the same algorithm over a Redis sorted set, shared
//     by every gateway replica
//   - BucketStore: token bucket per key using golang.org/x/time/rate
//   - ChanPool: channel semaphore for the concurrency cap
//   - MemoryStatsStore / RedisStatsStore: decision statistics
package infra
