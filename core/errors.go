package core

import "errors"

var (
	// ErrNotFound is returned when an alert, incident or other record does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a lifecycle status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnknownChannel is returned when a delivery channel is not configured
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrInvalidRule is returned when a threat detection rule fails validation
	ErrInvalidRule = errors.New("invalid threat detection rule")
)
