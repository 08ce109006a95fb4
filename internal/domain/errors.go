package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicatePair is returned when a ledger row already exists for a
	// (user, event) pair.
	ErrDuplicatePair = errors.New("notification already recorded for pair")

	// ErrStoreUnavailable marks persistent-store failures. A sweep that hits
	// one stops and waits for the next trigger.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrNotFound = errors.New("not found")
)

// ValidationError reports a malformed enumerated or required field.
type ValidationError struct {
	Field string
	Value string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Msg)
	}
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// ChannelError wraps a delivery failure from the messaging channel.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string { return "channel: " + e.Err.Error() }
func (e *ChannelError) Unwrap() error { return e.Err }

// StoreError wraps err so that errors.Is(err, ErrStoreUnavailable) holds,
// keeping the original error in the chain.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &storeError{op: op, err: err}
}

type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string { return e.op + ": " + ErrStoreUnavailable.Error() + ": " + e.err.Error() }

func (e *storeError) Unwrap() []error { return []error{ErrStoreUnavailable, e.err} }
