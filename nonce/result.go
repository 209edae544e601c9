package nonce

// Result is the outcome of a verification.
type Result uint8

const (
	// Valid means the token was accepted and is now consumed.
	Valid Result = iota
	// NotFound means the token is unknown, malformed, or already reclaimed.
	NotFound
	// WrongPurpose means the token exists but was issued for another purpose.
	// The token is not consumed.
	WrongPurpose
	// AlreadyConsumed means the token was accepted before.
	AlreadyConsumed
	// Expired means the token outlived its TTL without being consumed.
	Expired
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "valid"
	case NotFound:
		return "not_found"
	case WrongPurpose:
		return "wrong_purpose"
	case AlreadyConsumed:
		return "already_consumed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// OK reports whether the request guarded by the token may proceed.
func (r Result) OK() bool {
	return r == Valid
}
