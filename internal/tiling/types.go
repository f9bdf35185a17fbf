package tiling

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Web Mercator latitude limits
const (
	MinLat = -85.051129
	MaxLat = 85.051129
	MinLon = -180.0
	MaxLon = 180.0

	MinZoom = 0
	MaxZoom = 30
)

// Coordinate is a single slippy-map tile address
type Coordinate struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Valid reports whether x and y lie inside the 2^z grid
func (c Coordinate) Valid() bool {
	if c.Z < MinZoom || c.Z > MaxZoom {
		return false
	}
	n := 1 << c.Z
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// Bound returns the geographic extent covered by the tile
func (c Coordinate) Bound() orb.Bound {
	return maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Z)).Bound()
}

// TileIndexBounds is the inclusive tile rectangle covering a bounding box at
// one zoom level. Rows grow southward so North <= South.
type TileIndexBounds struct {
	North int `json:"north"`
	South int `json:"south"`
	East  int `json:"east"`
	West  int `json:"west"`
}

// Cols returns the number of columns in the bounds
func (b TileIndexBounds) Cols() int {
	return b.East - b.West + 1
}

// Rows returns the number of rows in the bounds
func (b TileIndexBounds) Rows() int {
	return b.South - b.North + 1
}

// Count returns the number of tiles in the bounds
func (b TileIndexBounds) Count() int {
	return b.Cols() * b.Rows()
}

// ZoomRange is an inclusive range of zoom levels
type ZoomRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Validate checks the range ordering and limits
func (r ZoomRange) Validate() error {
	if r.Min < MinZoom || r.Max > MaxZoom {
		return fmt.Errorf("zoom range [%d, %d] out of bounds [%d, %d]", r.Min, r.Max, MinZoom, MaxZoom)
	}
	if r.Min > r.Max {
		return fmt.Errorf("min zoom %d must not exceed max zoom %d", r.Min, r.Max)
	}
	return nil
}

// BoundingBox is a geographic rectangle in degrees
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// NewBoundingBox builds a box from the [south, west, north, east] ordering
// used on the command line.
func NewBoundingBox(v [4]float64) BoundingBox {
	return BoundingBox{South: v[0], West: v[1], North: v[2], East: v[3]}
}

// Validate checks that the box is ordered and inside the Mercator range
func (b BoundingBox) Validate() error {
	if b.South > b.North {
		return fmt.Errorf("south (%f) must not exceed north (%f)", b.South, b.North)
	}
	if b.West > b.East {
		return fmt.Errorf("west (%f) must not exceed east (%f)", b.West, b.East)
	}
	if b.South < MinLat || b.North > MaxLat {
		return fmt.Errorf("latitude out of Mercator range [%f, %f]: south=%f, north=%f", MinLat, MaxLat, b.South, b.North)
	}
	if b.West < MinLon || b.East > MaxLon {
		return fmt.Errorf("longitude out of range [%f, %f]: west=%f, east=%f", MinLon, MaxLon, b.West, b.East)
	}
	return nil
}
