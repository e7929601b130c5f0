package sockparse

import "errors"

var (
	// ErrInvalidRange covers a range whose start exceeds its end, an octet
	// outside 0-255, or a port outside 1-65535.
	ErrInvalidRange = errors.New("invalid range")

	ErrInvalidAddress = errors.New("invalid address specification")
	ErrInvalidPort    = errors.New("invalid port specification")
	ErrEmptySpec      = errors.New("empty specification")
)
