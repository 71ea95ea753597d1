package repository

import "errors"

var (
	// ErrNotFound is returned when a row does not exist for the tenant.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a run status update does not
	// follow an allowed state-machine edge.
	ErrInvalidTransition = errors.New("invalid status transition")
)
