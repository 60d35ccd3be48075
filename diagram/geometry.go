package diagram

import "math"

// clipPad keeps connector endpoints a few pixels clear of the shape border.
const clipPad = 5

// arrowGeom is the computed geometry of one connector element.
type arrowGeom struct {
	X, Y          float64
	Width, Height float64
	Points        [][]float64
}

// arrowBetween computes connector geometry between two shapes: the segment
// runs center-to-center, with each end clipped to its shape's padded
// rectangle edge. Points are relative to (X, Y).
func arrowBetween(from, to Pos) arrowGeom {
	fcx, fcy := from.X+from.W/2, from.Y+from.H/2
	tcx, tcy := to.X+to.W/2, to.Y+to.H/2

	sx, sy := clipToRect(fcx, fcy, tcx, tcy, from)
	ex, ey := clipToRect(tcx, tcy, fcx, fcy, to)

	return arrowGeom{
		X:      sx,
		Y:      sy,
		Width:  math.Abs(ex - sx),
		Height: math.Abs(ey - sy),
		Points: [][]float64{{0, 0}, {ex - sx, ey - sy}},
	}
}

// clipToRect finds where the ray from (cx, cy) toward (tx, ty) exits the
// padded rectangle r. Falls back to the center for degenerate rays.
func clipToRect(cx, cy, tx, ty float64, r Pos) (float64, float64) {
	dx := tx - cx
	dy := ty - cy
	if dx == 0 && dy == 0 {
		return cx, cy
	}

	type hit struct{ t, x, y float64 }
	var best *hit
	consider := func(t, x, y float64) {
		if best == nil || t < best.t {
			best = &hit{t, x, y}
		}
	}

	if dx > 0 {
		t := (r.X + r.W + clipPad - cx) / dx
		if y := cy + t*dy; y >= r.Y-clipPad && y <= r.Y+r.H+clipPad {
			consider(t, r.X+r.W+clipPad, y)
		}
	}
	if dx < 0 {
		t := (r.X - clipPad - cx) / dx
		if y := cy + t*dy; y >= r.Y-clipPad && y <= r.Y+r.H+clipPad {
			consider(t, r.X-clipPad, y)
		}
	}
	if dy > 0 {
		t := (r.Y + r.H + clipPad - cy) / dy
		if x := cx + t*dx; x >= r.X-clipPad && x <= r.X+r.W+clipPad {
			consider(t, x, r.Y+r.H+clipPad)
		}
	}
	if dy < 0 {
		t := (r.Y - clipPad - cy) / dy
		if x := cx + t*dx; x >= r.X-clipPad && x <= r.X+r.W+clipPad {
			consider(t, x, r.Y-clipPad)
		}
	}

	if best == nil {
		return cx, cy
	}
	return best.x, best.y
}
