// Package scene holds the authoritative in-memory element collection for
// the canvas process. The store is volatile: state lives for the process
// lifetime only, viewers and reconcilers treat it as a cache to be rebuilt.
package scene

// Label is the bound-text sugar carried by skeleton elements. The viewer
// expands it into a separate text element bound to its container.
type Label struct {
	Text       string  `json:"text"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily int     `json:"fontFamily,omitempty"`
}

// Binding references another element bound to this one (e.g. a label text
// inside a shape).
type Binding struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Element is a visual primitive: rectangle, ellipse, diamond, text, arrow,
// line or group. IDs are server-assigned and opaque; Version increments by
// exactly one on every update and is never reused.
type Element struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// Points holds connector geometry relative to (X, Y).
	Points [][]float64 `json:"points,omitempty"`

	StrokeColor     string `json:"strokeColor,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	FillStyle       string `json:"fillStyle,omitempty"`
	StrokeWidth     int    `json:"strokeWidth,omitempty"`
	StrokeStyle     string `json:"strokeStyle,omitempty"`
	Roughness       int    `json:"roughness,omitempty"`
	Opacity         int    `json:"opacity,omitempty"`

	Text       string  `json:"text,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily int     `json:"fontFamily,omitempty"`

	// Label is skeleton sugar; full records never carry it (the viewer
	// expands it into a bound text element).
	Label *Label `json:"label,omitempty"`

	StartArrowhead string `json:"startArrowhead,omitempty"`
	EndArrowhead   string `json:"endArrowhead,omitempty"`

	// Connector endpoint bindings, referencing other element IDs.
	StartID string `json:"startId,omitempty"`
	EndID   string `json:"endId,omitempty"`

	// ContainerID points a bound text at its container shape.
	ContainerID   string    `json:"containerId,omitempty"`
	BoundElements []Binding `json:"boundElements,omitempty"`

	// Server bookkeeping. Stripped by viewers before rendering.
	Version   int   `json:"version,omitempty"`
	CreatedAt int64 `json:"createdAt,omitempty"`
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}
