package rate

import "errors"

var (
	// ErrRateLimited is returned once a client exceeds its failure budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis command failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
