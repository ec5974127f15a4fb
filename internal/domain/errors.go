// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested tenant does not exist.
var ErrNotFound = errors.New("tenant not found")

// ErrValidation indicates a malformed or out-of-range request field.
var ErrValidation = errors.New("validation failed")

// ErrPortInUse indicates the requested host port is already bound to a tenant.
var ErrPortInUse = errors.New("port already in use")

// ErrOperationInProgress indicates another create/delete is mid-flight for the
// same site. Callers retry; operations are never queued.
var ErrOperationInProgress = errors.New("operation already in progress for this site")
