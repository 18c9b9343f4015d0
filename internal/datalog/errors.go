package datalog

import "errors"

var (
	// ErrQueueFull is returned when the file writer cannot keep up.
	ErrQueueFull = errors.New("datalog: queue full")

	// ErrClosed is returned when writing to a closed sink.
	ErrClosed = errors.New("datalog: sink closed")

	// ErrFileType is returned for an unknown file_type setting.
	ErrFileType = errors.New("datalog: unsupported file type")

	// ErrPublishTimeout is returned when the broker does not acknowledge in time.
	ErrPublishTimeout = errors.New("datalog: publish timed out")
)
