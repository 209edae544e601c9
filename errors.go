package goHook

import "errors"

var (
	// ErrNonceRejected is the single error CheckNonce returns for every
	// rejection, so callers cannot tell missing, replayed and expired apart.
	ErrNonceRejected = errors.New("nonce rejected")
	// ErrNonceRateLimited is returned when the client exceeded its verification
	// failure budget.
	ErrNonceRateLimited = errors.New("nonce verification rate limited")
	// ErrNonceUnavailable wraps token store or entropy failures.
	ErrNonceUnavailable = errors.New("nonce backend unavailable")
	// ErrEngineNotReady is returned by methods called on a nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
