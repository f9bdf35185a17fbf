package tiling

// RangeIterator enumerates every tile address of a bounding box over a zoom
// range in z, then x, then y ascending order. y varies fastest.
//
// A RangeIterator is not safe for concurrent use. Exactly one goroutine may
// advance it; that single advancer is what keeps issued addresses unique.
type RangeIterator struct {
	bbox   BoundingBox
	zoom   ZoomRange
	bounds TileIndexBounds
	cursor Coordinate

	started   bool
	exhausted bool
}

// NewRangeIterator creates an iterator seeded at the first address of the
// lowest zoom level.
func NewRangeIterator(bbox BoundingBox, zoom ZoomRange) *RangeIterator {
	it := &RangeIterator{bbox: bbox, zoom: zoom}
	it.seek(zoom.Min)
	return it
}

// Initialize rewinds the iterator and returns the first address:
// z = zoom.Min, x = bounds.West, y = bounds.North.
func (it *RangeIterator) Initialize() Coordinate {
	it.exhausted = false
	it.seek(it.zoom.Min)
	it.started = true
	return it.cursor
}

// Next returns the next address, or false once the range is exhausted.
// Every call after exhaustion keeps returning false.
func (it *RangeIterator) Next() (Coordinate, bool) {
	if it.exhausted {
		return Coordinate{}, false
	}

	if !it.started {
		it.started = true
		if it.cursor.Z > it.zoom.Max {
			it.exhausted = true
			return Coordinate{}, false
		}
		return it.cursor, true
	}

	it.cursor.Y++
	if it.cursor.Y > it.bounds.South {
		it.cursor.X++
		it.cursor.Y = it.bounds.North
	}
	if it.cursor.X > it.bounds.East {
		it.seek(it.cursor.Z + 1)
	}
	if it.cursor.Z > it.zoom.Max {
		it.exhausted = true
		return Coordinate{}, false
	}

	return it.cursor, true
}

// Bounds returns the tile rectangle of the current zoom level
func (it *RangeIterator) Bounds() TileIndexBounds {
	return it.bounds
}

// Exhausted reports whether the iterator has run past the max zoom
func (it *RangeIterator) Exhausted() bool {
	return it.exhausted
}

// seek moves the cursor to the first address of zoom level z, skipping levels
// whose rectangle is empty.
func (it *RangeIterator) seek(z int) {
	for ; z <= it.zoom.Max; z++ {
		it.bounds = BoundsAt(it.bbox, z)
		if it.bounds.Cols() > 0 && it.bounds.Rows() > 0 {
			it.cursor = Coordinate{Z: z, X: it.bounds.West, Y: it.bounds.North}
			return
		}
	}
	it.cursor = Coordinate{Z: z}
}
