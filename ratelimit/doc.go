// Package ratelimit throttles authentication attempts with fixed-window
// counters in Redis.
//
// Each key is "<prefix>:<action>:<identity>". The first hit in a window creates
// the counter and sets its TTL; later hits only increment it, so the window
// resets when the key expires. Bursts straddling a window boundary can reach
// twice the limit; that imprecision is accepted.
//
// The limiter fails open: if Redis is unreachable the request is allowed and
// the failure is logged, so a store outage never locks every user out.
package ratelimit
