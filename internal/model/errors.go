package model

import "errors"

var (
	// ErrInvalidConfiguration marks a non-positive window/period, top_k <= 0,
	// or a threshold outside [-1, 1]. It is a caller error, never retried.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientData marks history shorter than a computation's warm-up.
	// Core functions never return it; it only labels result warnings.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrUpstream wraps failures of the price data collaborator.
	ErrUpstream = errors.New("upstream price source failed")

	// ErrNotFound is returned when the price source has no such stock.
	ErrNotFound = errors.New("stock not found")
)

// ErrInvalidBar marks a caller-supplied price bar that fails validation.
var ErrInvalidBar = errors.New("invalid price bar")
