// Package rate provides the Redis-backed fixed-window counter that throttles
// clients presenting rejected nonces.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefix:
//   - nv: nonce verification failures per client
//
// # What this package must NOT do
//
//   - Decide which failures count (the engine does).
//   - Be imported outside the goHook module.
package rate
