package nonce

import "errors"

var (
	// ErrSourceUnavailable is returned by Issue when the entropy source cannot be read.
	ErrSourceUnavailable = errors.New("nonce entropy source unavailable")
	// ErrStoreUnavailable wraps backend failures of a Store.
	ErrStoreUnavailable = errors.New("nonce store unavailable")
	// ErrInvalidPurpose is returned by Issue for an empty purpose.
	ErrInvalidPurpose = errors.New("invalid nonce purpose")
	// ErrDuplicateID is returned by Store.Save when the id is already recorded.
	ErrDuplicateID = errors.New("duplicate nonce id")
)
