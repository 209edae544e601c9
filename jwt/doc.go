// Package jwt signs nonce values as compact JWTs so that forged or tampered
// values are rejected before any store lookup.
package jwt
