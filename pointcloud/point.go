package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// Point is a 3D position with the color sampled from its source pixel.
type Point struct {
	Position r3.Vector
	Color    color.NRGBA
}

// NewPoint convenience method for creating an opaque colored point.
func NewPoint(x, y, z float64, r, g, b uint8) Point {
	return Point{Position: r3.Vector{X: x, Y: y, Z: z}, Color: color.NRGBA{R: r, G: g, B: b, A: 255}}
}

// IsFinite reports whether every coordinate of the point is a finite number.
func (p Point) IsFinite() bool {
	return isFinite(p.Position.X) && isFinite(p.Position.Y) && isFinite(p.Position.Z)
}

// RGB255 returns the red, green and blue components of the point color.
func (p Point) RGB255() (uint8, uint8, uint8) {
	return p.Color.R, p.Color.G, p.Color.B
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
