package hooks

import (
	"errors"
	"fmt"
)

var (
	// ErrKindMismatch is returned when a channel is used as both action and filter.
	ErrKindMismatch = errors.New("hook channel kind mismatch")
	// ErrCallbackFailure matches every *CallbackError via errors.Is.
	ErrCallbackFailure = errors.New("hook callback failed")
	// ErrNilCallback is returned when subscribing a nil function.
	ErrNilCallback = errors.New("hook callback cannot be nil")
	// ErrInvalidChannel is returned for an empty channel name.
	ErrInvalidChannel = errors.New("invalid hook channel name")
)

// CallbackError describes a single failed callback invocation.
type CallbackError struct {
	Channel  string
	Kind     Kind
	Priority int

	// Err is the error returned by the callback, nil when it panicked.
	Err error

	// Panic holds the recovered value when the callback panicked.
	Panic any
	Stack []byte
}

func (e *CallbackError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("%s %q callback (priority %d) panicked: %v", e.Kind, e.Channel, e.Priority, e.Panic)
	}
	return fmt.Sprintf("%s %q callback (priority %d) failed: %v", e.Kind, e.Channel, e.Priority, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrCallbackFailure).
func (e *CallbackError) Is(target error) bool {
	return target == ErrCallbackFailure
}

// Panicked reports whether the callback panicked instead of returning an error.
func (e *CallbackError) Panicked() bool {
	return e.Panic != nil
}
