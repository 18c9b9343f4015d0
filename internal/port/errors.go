package port

import "errors"

var (
	// ErrPortClosed is returned for traffic on a port that is not open.
	ErrPortClosed = errors.New("port: closed")

	// ErrInvalidID is returned for a device id outside the addressable range.
	ErrInvalidID = errors.New("port: invalid device id")
)
