package tiling

import "math"

// LongitudeToTileX returns the tile column containing lng at zoom z.
//
// lng = 180 yields 2^z, one past the last column; callers that need a valid
// column for the antimeridian must clamp.
func LongitudeToTileX(lng float64, z int) int {
	return int(math.Floor((lng + 180) / 360 * math.Exp2(float64(z))))
}

// LatitudeToTileY returns the tile row containing lat at zoom z using the Web
// Mercator projection.
//
// lat must lie strictly inside (-90, 90); near the poles the result is
// unbounded. Keeping the bounding box inside [MinLat, MaxLat] is the caller's
// job.
func LatitudeToTileY(lat float64, z int) int {
	rad := lat * math.Pi / 180
	return int(math.Floor((1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * math.Exp2(float64(z))))
}

// BoundsAt computes the tile rectangle covering bbox at zoom z. Indices are
// clamped to the 2^z grid so an east edge of exactly 180 stays addressable.
func BoundsAt(bbox BoundingBox, z int) TileIndexBounds {
	last := 1<<z - 1
	return TileIndexBounds{
		North: clamp(LatitudeToTileY(bbox.North, z), 0, last),
		South: clamp(LatitudeToTileY(bbox.South, z), 0, last),
		West:  clamp(LongitudeToTileX(bbox.West, z), 0, last),
		East:  clamp(LongitudeToTileX(bbox.East, z), 0, last),
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Total is the number of addresses a RangeIterator over bbox and zoom emits
func Total(bbox BoundingBox, zoom ZoomRange) int {
	total := 0
	for z := zoom.Min; z <= zoom.Max; z++ {
		total += BoundsAt(bbox, z).Count()
	}
	return total
}
