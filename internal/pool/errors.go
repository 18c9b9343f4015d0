package pool

import (
	"errors"
	"fmt"
)

// ErrDeviceNotFound is matched by the error FindServo returns when a servo is
// missing even after a refresh.
var ErrDeviceNotFound = errors.New("servo is not mapped to any serial port")

// NotFoundError identifies the servo FindServo could not locate.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("servo #%d: %v", e.ID, ErrDeviceNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrDeviceNotFound }
