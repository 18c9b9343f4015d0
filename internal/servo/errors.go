package servo

import "errors"

var (
	// ErrUnknownRegister is returned for a register name missing from the control table.
	ErrUnknownRegister = errors.New("servo: unknown register")

	// ErrReadOnly is returned when writing a read-only register.
	ErrReadOnly = errors.New("servo: register is read-only")

	// ErrValueRange is returned when a value does not fit the register width.
	ErrValueRange = errors.New("servo: value out of range")
)
