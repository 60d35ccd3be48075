// Package diagram parses and validates declarative diagram specifications.
//
// A specification document has three optional sections — shapes, texts,
// connectors — each entry identified by a caller-chosen logical key. Logical
// keys are stable names owned by the spec author; they live in a different
// namespace from server-assigned element IDs and the two are never conflated.
package diagram

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maretko/drawbridge/scene"
)

// ErrInvalidSpec is returned when a specification document fails validation.
var ErrInvalidSpec = errors.New("diagram: invalid spec")

// Document is one parsed specification.
type Document struct {
	Shapes     []Shape     `yaml:"shapes"`
	Texts      []Text      `yaml:"texts"`
	Connectors []Connector `yaml:"connectors"`
}

// Load reads and parses a specification file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses and validates a YAML specification. Missing text and
// connector keys are auto-assigned ("_text_<i>", "<from>-to-<to>");
// connectors default to type "arrow".
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	keys := make(map[string]bool)
	claim := func(key, what string) error {
		if keys[key] {
			return fmt.Errorf("%w: duplicate logical key %q (%s)", ErrInvalidSpec, key, what)
		}
		keys[key] = true
		return nil
	}

	shapeKeys := make(map[string]bool)
	for i := range d.Shapes {
		s := &d.Shapes[i]
		if s.ID == "" {
			return fmt.Errorf("%w: shape %d missing id", ErrInvalidSpec, i)
		}
		if s.Type == "" {
			return fmt.Errorf("%w: shape %q missing type", ErrInvalidSpec, s.ID)
		}
		if !s.Pos.HasSize {
			return fmt.Errorf("%w: shape %q pos must be [x, y, \"WxH\"]", ErrInvalidSpec, s.ID)
		}
		if err := claim(s.ID, "shape"); err != nil {
			return err
		}
		shapeKeys[s.ID] = true
	}

	for i := range d.Texts {
		t := &d.Texts[i]
		if t.ID == "" {
			t.ID = fmt.Sprintf("_text_%d", i)
		}
		if t.Text == "" {
			return fmt.Errorf("%w: text %q missing text", ErrInvalidSpec, t.ID)
		}
		if err := claim(t.ID, "text"); err != nil {
			return err
		}
	}

	for i := range d.Connectors {
		c := &d.Connectors[i]
		if c.From == "" || c.To == "" {
			return fmt.Errorf("%w: connector %d missing from/to", ErrInvalidSpec, i)
		}
		if c.ID == "" {
			c.ID = c.From + "-to-" + c.To
		}
		if c.Type == "" {
			c.Type = "arrow"
		}
		if !shapeKeys[c.From] {
			return fmt.Errorf("%w: connector %q: from references unknown shape %q", ErrInvalidSpec, c.ID, c.From)
		}
		if !shapeKeys[c.To] {
			return fmt.Errorf("%w: connector %q: to references unknown shape %q", ErrInvalidSpec, c.ID, c.To)
		}
		if err := claim(c.ID, "connector"); err != nil {
			return err
		}
	}
	return nil
}

// Kind classifies a spec entry.
type Kind string

const (
	KindShape     Kind = "shape"
	KindText      Kind = "text"
	KindConnector Kind = "connector"
)

// Entry is one reconcilable unit of a specification: its logical key, a
// content fingerprint for change detection, and the skeleton element to
// create on the canvas. Connector entries also carry their endpoint logical
// keys so the reconciler can bind server IDs once those are known.
type Entry struct {
	Key      string
	Kind     Kind
	Hash     string
	Skeleton scene.Element

	// FromKey/ToKey are set for connectors only.
	FromKey string
	ToKey   string
}

// Entries returns the reconcilable entries in push order: shapes, then
// texts, then connectors. Connectors come last so every endpoint has a known
// server ID by the time they are created.
func (d *Document) Entries() []Entry {
	shapes := make(map[string]*Shape, len(d.Shapes))
	for i := range d.Shapes {
		shapes[d.Shapes[i].ID] = &d.Shapes[i]
	}

	out := make([]Entry, 0, len(d.Shapes)+len(d.Texts)+len(d.Connectors))
	// Hashes cover the resolved skeleton, not the raw spec block. For
	// connectors that folds in endpoint geometry, so moving a shape marks
	// its connectors changed too. Skeletons carry no server IDs, which
	// keeps hashes comparable across canvases.
	for i := range d.Shapes {
		s := &d.Shapes[i]
		sk := s.Skeleton()
		out = append(out, Entry{
			Key:      s.ID,
			Kind:     KindShape,
			Hash:     fingerprint(sk),
			Skeleton: sk,
		})
	}
	for i := range d.Texts {
		t := &d.Texts[i]
		sk := t.Skeleton()
		out = append(out, Entry{
			Key:      t.ID,
			Kind:     KindText,
			Hash:     fingerprint(sk),
			Skeleton: sk,
		})
	}
	for i := range d.Connectors {
		c := &d.Connectors[i]
		sk := c.Skeleton(shapes[c.From], shapes[c.To])
		out = append(out, Entry{
			Key:      c.ID,
			Kind:     KindConnector,
			Hash:     fingerprint(sk),
			Skeleton: sk,
			FromKey:  c.From,
			ToKey:    c.To,
		})
	}
	return out
}

// fingerprint hashes the canonical JSON form of a spec entry. Sixteen hex
// chars is plenty for change detection within one document.
func fingerprint(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// Spec entry structs always marshal; this is unreachable short of
		// a schema bug.
		panic(fmt.Sprintf("diagram: fingerprint: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}
