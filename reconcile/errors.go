package reconcile

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by the client when the canvas rejects an
// update/delete because the target element ID does not exist.
var ErrNotFound = errors.New("reconcile: element not found on canvas")

// ErrValidation is returned by the client when the canvas rejects a
// malformed request body.
var ErrValidation = errors.New("reconcile: canvas rejected request")

// TransportError wraps a network-level failure reaching the canvas service.
// It is never retried automatically; callers decide.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("reconcile: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
