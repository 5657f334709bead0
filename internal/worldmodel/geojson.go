package worldmodel

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/mcl.localizer/internal/geo"
)

// LoadGeoJSON reads a world description from a GeoJSON
// FeatureCollection. LineString and Polygon features become wall
// entities; coordinates are metres in the map frame. Feature IDs (or
// the "id" property) name the entity; unnamed features get a
// positional name.
func LoadGeoJSON(path string) (*World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading world file: %w", err)
	}
	return ParseGeoJSON(data)
}

// ParseGeoJSON builds a World from raw GeoJSON bytes.
func ParseGeoJSON(data []byte) (*World, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing world GeoJSON: %w", err)
	}

	w := NewWorld()
	for i, f := range fc.Features {
		shape := shapeFromGeometry(f.Geometry)
		if len(shape) == 0 {
			continue
		}
		id := featureID(f, i)
		w.SetEntity(Entity{ID: id, Pose: geo.Identity(), Shape: shape})
	}

	if w.EntityCount() == 0 {
		return nil, fmt.Errorf("world GeoJSON contains no usable LineString or Polygon features")
	}
	return w, nil
}

func featureID(f *geojson.Feature, index int) string {
	if s, ok := f.ID.(string); ok && s != "" {
		return s
	}
	if v, ok := f.Properties["id"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fmt.Sprintf("feature-%d", index)
}

func shapeFromGeometry(g orb.Geometry) []LineSegment {
	switch geom := g.(type) {
	case orb.LineString:
		return segmentsFromPoints([]orb.Point(geom), false)
	case orb.MultiLineString:
		var out []LineSegment
		for _, ls := range geom {
			out = append(out, segmentsFromPoints([]orb.Point(ls), false)...)
		}
		return out
	case orb.Polygon:
		var out []LineSegment
		for _, ring := range geom {
			out = append(out, segmentsFromPoints([]orb.Point(ring), true)...)
		}
		return out
	case orb.MultiPolygon:
		var out []LineSegment
		for _, poly := range geom {
			for _, ring := range poly {
				out = append(out, segmentsFromPoints([]orb.Point(ring), true)...)
			}
		}
		return out
	default:
		// Points and collections carry no boundary to ray-cast against.
		return nil
	}
}

func segmentsFromPoints(pts []orb.Point, closed bool) []LineSegment {
	if len(pts) < 2 {
		return nil
	}
	segs := make([]LineSegment, 0, len(pts))
	for i := 1; i < len(pts); i++ {
		segs = append(segs, LineSegment{
			Start: geo.Vec2{X: pts[i-1][0], Y: pts[i-1][1]},
			End:   geo.Vec2{X: pts[i][0], Y: pts[i][1]},
		})
	}
	// GeoJSON rings repeat the first point; only close if they don't.
	if closed && pts[0] != pts[len(pts)-1] {
		segs = append(segs, LineSegment{
			Start: geo.Vec2{X: pts[len(pts)-1][0], Y: pts[len(pts)-1][1]},
			End:   geo.Vec2{X: pts[0][0], Y: pts[0][1]},
		})
	}
	return segs
}
