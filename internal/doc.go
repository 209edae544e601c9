// Package internal contains helper utilities that are intentionally private to goHook,
// currently secure nonce identifier generation and parsing.
//
// # Sub-packages
//
//   - rate: Redis-backed fixed-window throttle for failed nonce verifications
//
// # What this package must NOT do
//
//   - Export types that appear in the public goHook API.
//   - Fall back to a weaker randomness source when crypto/rand fails.
package internal
