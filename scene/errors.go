package scene

import "errors"

// ErrNotFound is returned when an operation targets an element ID that is
// not present in the store. Update and delete never create implicitly.
var ErrNotFound = errors.New("scene: element not found")
