package scheduler

import "errors"

var (
	// ErrConfigLoad is returned by Start when the schedule document cannot be
	// read or is malformed. The scheduler stays stopped.
	ErrConfigLoad = errors.New("scheduler: loading schedule failed")

	// ErrActionFailed wraps every failed, timed out or panicking invocation in
	// the log entry written for it.
	ErrActionFailed = errors.New("scheduler: action invocation failed")

	// ErrRunning is returned by Start when the loop is already active.
	ErrRunning = errors.New("scheduler: already running")
)
