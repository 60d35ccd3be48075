// Package idgen provides pluggable ID generation for drawbridge.
//
// Constructors across the repo (scene store, canvas hub, observability)
// accept a Generator, making the ID strategy a startup-time decision
// rather than a compile-time one.
package idgen

import (
	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, globally unique.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Used for type-scoped identifiers ("el_", "vw_", "evt_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the repo default: UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Element produces a server-assigned element ID ("el_" prefix).
// Element IDs are opaque to callers and stable for the process lifetime only.
var Element Generator = Prefixed("el_", Default)

// Viewer produces a viewer connection ID ("vw_" prefix).
var Viewer Generator = Prefixed("vw_", Default)
