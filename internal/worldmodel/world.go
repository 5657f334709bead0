// Package worldmodel holds the static environment representation the
// localizer scores particles against: named entities with 2D
// line-segment contours, queried once per sensor update.
package worldmodel

import (
	"sort"
	"sync"

	"github.com/banshee-data/mcl.localizer/internal/geo"
)

// LineSegment is one obstacle boundary edge in map coordinates.
type LineSegment struct {
	Start geo.Vec2
	End   geo.Vec2
}

// Length returns the segment length in metres.
func (s LineSegment) Length() float64 {
	return s.End.Sub(s.Start).Norm()
}

// Entity is a world object with a pose and a contour expressed in the
// entity's local frame. Walls and furniture are entities; the robot is
// not.
type Entity struct {
	ID    string
	Pose  geo.Transform2
	Shape []LineSegment
}

// World is the set of entities relevant to localization. Entities are
// keyed by ID; updating an existing ID replaces the entity wholesale.
type World struct {
	mu       sync.RWMutex
	entities map[string]Entity
	revision uint64
}

// NewWorld returns an empty world.
func NewWorld() *World {
	return &World{entities: make(map[string]Entity)}
}

// SetEntity inserts or replaces an entity and bumps the world revision.
func (w *World) SetEntity(e Entity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entities[e.ID] = e
	w.revision++
}

// RemoveEntity deletes an entity if present.
func (w *World) RemoveEntity(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entities[id]; ok {
		delete(w.entities, id)
		w.revision++
	}
}

// Revision returns a counter that changes whenever the entity set
// changes. Consumers may cache derived data (like the flattened
// segment list) until the revision moves.
func (w *World) Revision() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.revision
}

// EntityCount returns the number of entities in the world.
func (w *World) EntityCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entities)
}

// Entities returns a snapshot of the entity set, sorted by ID.
func (w *World) Entities() []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Entity, 0, len(w.entities))
	for _, e := range w.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LineSegments flattens every entity contour into map coordinates.
// This is the map query the sensor model ray-casts against.
func (w *World) LineSegments() []LineSegment {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []LineSegment
	for _, e := range w.entities {
		for _, s := range e.Shape {
			out = append(out, LineSegment{
				Start: e.Pose.TransformPoint(s.Start),
				End:   e.Pose.TransformPoint(s.End),
			})
		}
	}
	return out
}
