package settings

import "errors"

var (
	// ErrUnknownPath is returned when a dotted path does not resolve to a
	// leaf in the settings schema. Paths that stop at an interior node are
	// unknown too.
	ErrUnknownPath = errors.New("settings: unknown path")

	// ErrInvalidValue is returned when a value cannot be assigned to the
	// leaf a path resolves to
	ErrInvalidValue = errors.New("settings: invalid value")
)
