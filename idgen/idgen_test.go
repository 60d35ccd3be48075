package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Unique(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("el_", func() string { return "abc" })
	if got := gen(); got != "el_abc" {
		t.Fatalf("got %q, want el_abc", got)
	}
}

func TestElement_Prefix(t *testing.T) {
	id := Element()
	if !strings.HasPrefix(id, "el_") {
		t.Fatalf("element ID missing el_ prefix: %s", id)
	}
}
