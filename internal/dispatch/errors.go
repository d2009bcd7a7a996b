package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleBlockReference is returned when no block reference could be
	// obtained within the retry budget. Nothing has been broadcast.
	ErrStaleBlockReference = errors.New("could not obtain a fresh block reference")

	// ErrMissingTip is returned when no transaction of a bundle pays a relay tip account.
	ErrMissingTip = errors.New("bundle has no tip transfer to a relay tip account")

	// ErrSignatureMismatch is returned when the node acknowledges a signature
	// other than the one computed locally.
	ErrSignatureMismatch = errors.New("node returned a different signature")

	ErrMultipleSigners = errors.New("transaction requires more than one signer")
	ErrEmptyBundle     = errors.New("bundle has no transactions")
)

// BroadcastError is returned when a direct broadcast failed on every attempt.
type BroadcastError struct {
	Attempts int
	Err      error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// RelayError is returned when the relay refused or did not answer a bundle.
type RelayError struct {
	Err error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay submission failed: %v", e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}
