package mcl

import (
	"math"

	"github.com/banshee-data/mcl.localizer/internal/geo"
	"github.com/banshee-data/mcl.localizer/internal/worldmodel"
)

// CastRay intersects the ray origin + t*dir (dir unit length) with the
// given segments and returns the distance to the nearest hit within
// maxRange. The second return is false when nothing is hit. Exposed
// for scan simulation; the sensor model uses the same intersection.
func CastRay(origin, dir geo.Vec2, maxRange float64, segments []worldmodel.LineSegment) (float64, bool) {
	return castRay(origin, dir, maxRange, segments)
}

// castRay intersects the ray origin + t*dir (dir unit length, t >= 0)
// with every segment and returns the distance to the nearest hit
// within maxRange. The second return is false when nothing is hit.
func castRay(origin, dir geo.Vec2, maxRange float64, segments []worldmodel.LineSegment) (float64, bool) {
	best := math.Inf(1)

	for i := range segments {
		a := segments[i].Start
		ab := segments[i].End.Sub(a)

		// Solve origin + t*dir == a + u*ab via 2D cross products.
		denom := dir.Cross(ab)
		if math.Abs(denom) < 1e-12 {
			continue // parallel
		}

		ao := a.Sub(origin)
		t := ao.Cross(ab) / denom
		u := ao.Cross(dir) / denom

		if t >= 0 && u >= 0 && u <= 1 && t < best {
			best = t
		}
	}

	if best > maxRange || math.IsInf(best, 1) {
		return 0, false
	}
	return best, true
}
