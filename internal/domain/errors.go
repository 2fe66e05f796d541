// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a compare-and-set lost to a concurrent writer.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed input.
var ErrValidation = errors.New("validation failed")

// ErrUnauthorized indicates the caller is not the assigned trainer.
var ErrUnauthorized = errors.New("unauthorized")

// ErrExpired indicates a decision arrived after the request's expiry.
var ErrExpired = errors.New("approval request expired")

// ErrInvalidTransition indicates a decision on an already approved or rejected request.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrGenerationFailure indicates the text generation backend failed or timed out.
var ErrGenerationFailure = errors.New("generation failure")
