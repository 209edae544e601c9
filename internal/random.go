package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// NonceIDSize is the raw size of a nonce identifier: 128 bits.
const NonceIDSize = 16

type NonceID [NonceIDSize]byte

// NewNonceID reads a fresh identifier from r, or from crypto/rand when r is nil.
// A failed or short read is returned as an error, never a partially random id.
func NewNonceID(r io.Reader) (NonceID, error) {
	var id NonceID
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return NonceID{}, fmt.Errorf("read nonce id: %w", err)
	}
	return id, nil
}

func (id NonceID) Bytes() []byte {
	return id[:]
}

func (id NonceID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func ParseNonceID(value string) (NonceID, error) {
	var id NonceID

	if len(value) != base64.RawURLEncoding.EncodedLen(NonceIDSize) {
		return id, errors.New("invalid nonce id size")
	}
	raw, err := base64.RawURLEncoding.Strict().DecodeString(value)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid nonce id size")
	}

	copy(id[:], raw)
	return id, nil
}

