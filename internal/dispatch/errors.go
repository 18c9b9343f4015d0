package dispatch

import "errors"

var (
	// ErrUnknownAction is returned when no action is registered under a name.
	ErrUnknownAction = errors.New("dispatch: unknown action")

	// ErrDuplicateAction is returned when registering a name twice.
	ErrDuplicateAction = errors.New("dispatch: action already registered")

	// ErrInvalidName is returned for empty or malformed action names.
	ErrInvalidName = errors.New("dispatch: invalid action name")

	// ErrRemote wraps a non-success response from the action server.
	ErrRemote = errors.New("dispatch: remote action failed")
)
