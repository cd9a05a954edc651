package errors

import (
	"errors"
)

// Sentinel errors for the session synchronizer.
var (
	// ErrConnection - the adapter could not establish a session (returned from Start, session back to idle)
	ErrConnection = errors.New("connection failed")

	// ErrAdapter - the adapter reported an error mid-session (session forced back to idle)
	ErrAdapter = errors.New("adapter error")

	// ErrLocalAction - interrupt or send was rejected (state unchanged, notice only)
	ErrLocalAction = errors.New("local action failed")

	// ErrCleanup - the remote teardown failed or timed out (logged and swallowed)
	ErrCleanup = errors.New("cleanup failed")

	// ErrMalformedPayload - an event fragment could not be interpreted (logged only)
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrNotActive - an action requires an active session
	ErrNotActive = errors.New("session not active")

	// ErrClosed - the controller has been torn down
	ErrClosed = errors.New("controller closed")

	// ErrInvalidInput - invalid input
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrTransient - transient error, a fresh attempt may succeed
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
