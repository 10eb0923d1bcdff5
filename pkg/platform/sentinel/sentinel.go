// Package sentinel holds the infrastructure facts stores and adapters report.
// Services translate them once into pkg/domain-errors codes; validation
// failures never travel as sentinels.
package sentinel

import "errors"

var (
	// ErrNotFound: no record matches the lookup.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a uniqueness constraint rejected the write, e.g. a second
	// document for the same issuer, kind and natural key.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyUsed: a one-shot transition such as a claim already happened.
	ErrAlreadyUsed = errors.New("already used")
	// ErrInvalidState: the row would violate a consistency check.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: the backing service is temporarily unreachable.
	ErrUnavailable = errors.New("unavailable")
)
