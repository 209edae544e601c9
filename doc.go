// Package goHook provides an extensibility core for request-driven servers:
// a registry of named action and filter hook channels, and an authority that
// issues single-use, purpose-bound, expiring nonces.
//
// [Engine] wires both to structured logging (zerolog), lock-free metrics, an
// asynchronous audit pipeline and, when Redis is configured, a Redis token
// store and a per-client verification failure throttle. Engine methods are
// safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// The hooks and nonce sub-packages are usable on their own. This package adds
// cross-cutting concerns only; it never changes dispatch order, failure
// policy, or the verification outcome.
//
// # What this package must NOT do
//
//   - Log or audit token values.
//   - Hold a lock while hook callbacks run.
//   - Import any sub-package that re-imports goHook (no import cycles).
package goHook
