package config

import "errors"

// ErrInvalid is wrapped by Validate when any setting is out of range.
var ErrInvalid = errors.New("invalid configuration")
