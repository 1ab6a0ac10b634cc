// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request failed input validation.
var ErrValidation = errors.New("validation failed")

// ErrNotProvisioned indicates a data store object (view, function) that an
// operation depends on has not been created yet.
var ErrNotProvisioned = errors.New("not provisioned")
