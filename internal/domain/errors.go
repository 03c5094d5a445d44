package domain

import "errors"

// Common domain errors for invalid model input.
var (
	// ErrEmptyID indicates a document was supplied without an identity.
	ErrEmptyID = errors.New("empty document id")

	// ErrInvalidRole indicates a role outside {judge, spectator}.
	ErrInvalidRole = errors.New("invalid voter role")
)
