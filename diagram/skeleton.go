package diagram

import (
	"github.com/maretko/drawbridge/scene"
)

// Font family names map to the numeric IDs the canvas wire format expects.
var fontFamilies = map[string]int{
	"Virgil":    1,
	"Helvetica": 2,
	"Cascadia":  3,
}

const (
	defaultStroke     = "#1e1e1e"
	defaultBackground = "transparent"

	defaultFillStyle   = "solid"
	defaultStrokeWidth = 2
	defaultStrokeStyle = "solid"
	defaultRoughness   = 1
	defaultOpacity     = 100

	defaultLabelFontSize = 16
	defaultTextFontSize  = 20
	defaultFontFamily    = 1 // Virgil
)

// resolveFontFamily maps a family name to its numeric ID; unknown names
// fall back to the default family.
func resolveFontFamily(name string) int {
	if name == "" {
		return defaultFontFamily
	}
	if id, ok := fontFamilies[name]; ok {
		return id
	}
	return defaultFontFamily
}

func orStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orPtr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// Skeleton converts a declared shape into the skeleton element pushed to the
// canvas. Skeletons have no server identity; the viewer expands label sugar
// into a bound text element.
func (s *Shape) Skeleton() scene.Element {
	el := scene.Element{
		Type:            s.Type,
		X:               s.Pos.X,
		Y:               s.Pos.Y,
		Width:           s.Pos.W,
		Height:          s.Pos.H,
		StrokeColor:     orStr(s.Color.Stroke, defaultStroke),
		BackgroundColor: orStr(s.Color.BG, defaultBackground),
		FillStyle:       orStr(s.Style.FillStyle, defaultFillStyle),
		StrokeWidth:     orInt(s.Style.StrokeWidth, defaultStrokeWidth),
		StrokeStyle:     orStr(s.Style.StrokeStyle, defaultStrokeStyle),
		Roughness:       orPtr(s.Style.Roughness, defaultRoughness),
		Opacity:         orPtr(s.Style.Opacity, defaultOpacity),
	}
	if s.Label != "" {
		fontSize := s.FontSize
		if fontSize == 0 {
			fontSize = defaultLabelFontSize
		}
		el.Label = &scene.Label{
			Text:       s.Label,
			FontSize:   fontSize,
			FontFamily: resolveFontFamily(s.FontFamily),
		}
	}
	return el
}

// Skeleton converts a declared free-standing text.
func (t *Text) Skeleton() scene.Element {
	fontSize := t.FontSize
	if fontSize == 0 {
		fontSize = defaultTextFontSize
	}
	return scene.Element{
		Type:        "text",
		X:           t.Pos.X,
		Y:           t.Pos.Y,
		Text:        t.Text,
		FontSize:    fontSize,
		FontFamily:  resolveFontFamily(t.FontFamily),
		StrokeColor: orStr(t.Color.Stroke, defaultStroke),
	}
}

// Skeleton converts a declared connector. Geometry runs center-to-center
// between the endpoint shapes, clipped to their rectangle edges.
func (c *Connector) Skeleton(from, to *Shape) scene.Element {
	geom := arrowBetween(from.Pos, to.Pos)

	end := c.EndArrowhead
	if end == "" && c.Type == "arrow" {
		end = "arrow"
	}
	if end == "none" {
		end = ""
	}
	start := c.StartArrowhead
	if start == "none" {
		start = ""
	}

	el := scene.Element{
		Type:           c.Type,
		X:              geom.X,
		Y:              geom.Y,
		Width:          geom.Width,
		Height:         geom.Height,
		Points:         geom.Points,
		StrokeColor:    orStr(c.Color.Stroke, defaultStroke),
		StrokeWidth:    orInt(c.Style.StrokeWidth, defaultStrokeWidth),
		StrokeStyle:    orStr(c.Style.StrokeStyle, defaultStrokeStyle),
		StartArrowhead: start,
		EndArrowhead:   end,
	}
	if c.Label != "" {
		el.Label = &scene.Label{
			Text:       c.Label,
			FontFamily: resolveFontFamily(c.FontFamily),
		}
	}
	return el
}
