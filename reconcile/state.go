package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const stateVersion = 1

// Mapping ties one spec entry key to the server element it produced and
// the content hash of the entry at the time it was pushed.
type Mapping struct {
	ElementID string `json:"element_id"`
	Hash      string `json:"hash"`
}

// State is the on-disk record of the last successful push of a spec file.
// It lives beside the spec as <stem>.state.json.
type State struct {
	Version  int                `json:"version"`
	PushedAt string             `json:"pushed_at,omitempty"`
	Mappings map[string]Mapping `json:"mappings"`
}

func newState() *State {
	return &State{Version: stateVersion, Mappings: map[string]Mapping{}}
}

// StatePath returns the mapping record path for a spec file:
// diagrams/arch.yaml -> diagrams/arch.state.json.
func StatePath(specPath string) string {
	base := strings.TrimSuffix(specPath, filepath.Ext(specPath))
	return base + ".state.json"
}

// LoadState reads the mapping record for a spec file. A missing record is
// not an error: it returns an empty state, which makes the next push a
// first push. A corrupt or version-mismatched record is treated the same
// way, so a damaged file degrades to a full resync instead of failing.
func LoadState(specPath string) *State {
	buf, err := os.ReadFile(StatePath(specPath))
	if err != nil {
		return newState()
	}
	var s State
	if err := json.Unmarshal(buf, &s); err != nil || s.Version != stateVersion || s.Mappings == nil {
		return newState()
	}
	return &s
}

// Save writes the mapping record atomically via a temp-file rename.
func (s *State) Save(specPath string) error {
	s.Version = stateVersion
	s.PushedAt = time.Now().UTC().Format(time.RFC3339)

	buf, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("reconcile: encode state: %w", err)
	}
	path := StatePath(specPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(buf, '\n'), 0o644); err != nil {
		return fmt.Errorf("reconcile: write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("reconcile: replace state: %w", err)
	}
	return nil
}
