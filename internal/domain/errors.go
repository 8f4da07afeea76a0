package domain

import "errors"

var (
	// ErrNotFound is returned when a weekly entry or exception does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSlotConflict is returned when a write would overlap existing occupancy.
	ErrSlotConflict = errors.New("slot conflict")
	// ErrInvalidTransition is returned for state changes the slot or record does not allow.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrBackendUnavailable wraps I/O failures of the persistence collaborator.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation error")
)
