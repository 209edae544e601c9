// Package nonce issues and verifies single-use, purpose-scoped tokens that
// guard state-changing requests.
//
// # Lifecycle
//
// [Authority.Issue] draws 128 bits from a cryptographically secure source and
// records the token with its purpose and expiry. [Authority.Verify] accepts a
// token exactly once, for exactly the purpose it was issued with, before it
// expires. Every other outcome is an ordinary [Result], not an error: the
// returned error is reserved for backend failures.
//
// Hosts must answer every rejection the same way. Which check failed is
// available to the caller for logging and metrics only.
//
// # Stores
//
//   - [MemoryStore]: process-local; consumption is a compare-and-swap on the
//     token's own flag, so unrelated tokens never contend.
//   - [RedisStore]: shared across processes; consumption is a single Lua
//     script, atomic on the server. Token ids are stored only as keyed hashes.
//
// # What this package must NOT do
//
//   - Log or persist token values in clear.
//   - Return a token when the entropy source fails.
//   - Dispatch hooks or know about HTTP.
package nonce
