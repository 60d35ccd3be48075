package diagram

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pos is a diagram position: `[x, y]` or `[x, y, "WIDTHxHEIGHT"]`.
type Pos struct {
	X, Y    float64
	W, H    float64
	HasSize bool
}

// UnmarshalYAML decodes the two- or three-item sequence form.
func (p *Pos) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode || len(node.Content) < 2 {
		return fmt.Errorf("pos must be [x, y] or [x, y, \"WxH\"]")
	}
	if err := node.Content[0].Decode(&p.X); err != nil {
		return fmt.Errorf("pos x: %w", err)
	}
	if err := node.Content[1].Decode(&p.Y); err != nil {
		return fmt.Errorf("pos y: %w", err)
	}
	if len(node.Content) >= 3 {
		var dim string
		if err := node.Content[2].Decode(&dim); err != nil {
			return fmt.Errorf("pos size: %w", err)
		}
		ws, hs, ok := strings.Cut(dim, "x")
		if !ok {
			return fmt.Errorf("pos size %q: want \"WIDTHxHEIGHT\"", dim)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(ws), 64)
		if err != nil {
			return fmt.Errorf("pos width %q: %w", ws, err)
		}
		h, err := strconv.ParseFloat(strings.TrimSpace(hs), 64)
		if err != nil {
			return fmt.Errorf("pos height %q: %w", hs, err)
		}
		p.W, p.H, p.HasSize = w, h, true
	}
	return nil
}

// MarshalYAML renders the sequence form back out.
func (p Pos) MarshalYAML() (any, error) {
	if p.HasSize {
		return []any{p.X, p.Y, fmt.Sprintf("%gx%g", p.W, p.H)}, nil
	}
	return []any{p.X, p.Y}, nil
}

// Color carries the optional color block of a spec entry.
type Color struct {
	BG     string `yaml:"bg,omitempty" json:"bg,omitempty"`
	Stroke string `yaml:"stroke,omitempty" json:"stroke,omitempty"`
}

// Style carries optional shape/connector style overrides. Roughness and
// Opacity are pointers because zero is a meaningful value for both.
type Style struct {
	FillStyle   string `yaml:"fillStyle,omitempty" json:"fillStyle,omitempty"`
	StrokeWidth int    `yaml:"strokeWidth,omitempty" json:"strokeWidth,omitempty"`
	StrokeStyle string `yaml:"strokeStyle,omitempty" json:"strokeStyle,omitempty"`
	Roughness   *int   `yaml:"roughness,omitempty" json:"roughness,omitempty"`
	Opacity     *int   `yaml:"opacity,omitempty" json:"opacity,omitempty"`
}

// Shape is one declared shape: rectangle, ellipse or diamond.
type Shape struct {
	ID         string `yaml:"id" json:"id"`
	Type       string `yaml:"type" json:"type"`
	Pos        Pos    `yaml:"pos" json:"pos"`
	Label      string `yaml:"label,omitempty" json:"label,omitempty"`
	Color      Color  `yaml:"color,omitempty" json:"color,omitempty"`
	Style      Style  `yaml:"style,omitempty" json:"style,omitempty"`
	FontSize   float64 `yaml:"fontSize,omitempty" json:"fontSize,omitempty"`
	FontFamily string `yaml:"fontFamily,omitempty" json:"fontFamily,omitempty"`
}

// Text is one free-standing text entry.
type Text struct {
	ID         string  `yaml:"id,omitempty" json:"id,omitempty"`
	Text       string  `yaml:"text" json:"text"`
	Pos        Pos     `yaml:"pos" json:"pos"`
	Color      Color   `yaml:"color,omitempty" json:"color,omitempty"`
	FontSize   float64 `yaml:"fontSize,omitempty" json:"fontSize,omitempty"`
	FontFamily string  `yaml:"fontFamily,omitempty" json:"fontFamily,omitempty"`
}

// Connector joins two shapes by their logical keys.
type Connector struct {
	ID             string `yaml:"id,omitempty" json:"id,omitempty"`
	From           string `yaml:"from" json:"from"`
	To             string `yaml:"to" json:"to"`
	Type           string `yaml:"type,omitempty" json:"type,omitempty"`
	Label          string `yaml:"label,omitempty" json:"label,omitempty"`
	StartArrowhead string `yaml:"startArrowhead,omitempty" json:"startArrowhead,omitempty"`
	EndArrowhead   string `yaml:"endArrowhead,omitempty" json:"endArrowhead,omitempty"`
	Color          Color  `yaml:"color,omitempty" json:"color,omitempty"`
	Style          Style  `yaml:"style,omitempty" json:"style,omitempty"`
	FontFamily     string `yaml:"fontFamily,omitempty" json:"fontFamily,omitempty"`
}
