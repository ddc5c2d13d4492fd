package domain

import "errors"

var (
	// ErrNotFound is returned for unknown agent or queue entry ids.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned when a request is rejected before any routing happens.
	ErrValidation = errors.New("validation failed")
)
