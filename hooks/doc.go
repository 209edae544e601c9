// Package hooks implements a named, priority-ordered callback registry with two
// channel kinds: actions (fire-and-forget) and filters (value transforms).
//
// # Ordering
//
// Subscriptions on a channel run by ascending priority; equal priorities run in
// registration order. The order is part of the contract: a filter chain's
// output depends on it.
//
// # Failure policy
//
//   - [Registry.Dispatch] recovers every callback failure (returned error or
//     panic), reports it to the registry's [ErrorSink] and keeps going.
//   - [Registry.Apply] aborts on the first failure and returns it as a
//     [*CallbackError]; later callbacks are not invoked.
//
// # Concurrency
//
// A Registry is safe for concurrent use. Each invocation iterates a snapshot of
// the channel taken when it starts, and no lock is held while a callback runs,
// so callbacks may subscribe, unsubscribe or dispatch re-entrantly.
//
// # What this package must NOT do
//
//   - Know about nonces, HTTP or any other host concern.
//   - Hold a lock across a callback invocation.
package hooks
