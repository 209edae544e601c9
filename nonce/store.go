package nonce

import (
	"context"
	"time"
)

// Record is the stored state of one token.
type Record struct {
	// ID is the base64url form of the 128-bit token identifier.
	ID        string
	Purpose   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Consumed  bool
}

// Store persists records and performs the atomic check-and-consume.
//
// Consume must evaluate, in order: existence, purpose, consumed flag, expiry;
// and it must flip the consumed flag atomically with the checks so that two
// concurrent calls on one id yield at most one Valid.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Consume(ctx context.Context, id, purpose string, now time.Time) (Result, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Codec turns a record into the opaque value handed to the client and back
// into the id used for lookup.
type Codec interface {
	Encode(rec Record) (string, error)
	// Decode returns the record id carried by value, or an error when the value
	// is malformed or not authentic.
	Decode(value string) (string, error)
}

// opaqueCodec uses the base64url id itself as the token value.
type opaqueCodec struct{}

func (opaqueCodec) Encode(rec Record) (string, error) {
	return rec.ID, nil
}

func (opaqueCodec) Decode(value string) (string, error) {
	if _, err := parseID(value); err != nil {
		return "", err
	}
	return value, nil
}
