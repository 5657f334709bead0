// Package frames provides the coordinate-frame lookup and broadcast
// contract the localizer depends on, plus an in-memory implementation
// for embedding and tests.
package frames

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/mcl.localizer/internal/geo"
)

// ErrUnavailable reports that a requested transform cannot be resolved
// yet. Callers treat this as recoverable and retry on a later cycle.
var ErrUnavailable = errors.New("transform unavailable")

// Relation states that child's origin sits at Pose within parent.
type Relation struct {
	Parent string
	Child  string
	Pose   geo.Transform2
	Stamp  time.Time
}

// Source resolves transforms between named frames.
type Source interface {
	// Lookup returns the transform taking points in child coordinates
	// to parent coordinates, at or near the given stamp. Fails with an
	// error wrapping ErrUnavailable after a bounded wait.
	Lookup(parent, child string, stamp time.Time) (geo.Transform2, error)
}

// Broadcaster accepts one-way frame relationship updates.
type Broadcaster interface {
	Broadcast(rel Relation) error
}

// Tree is an in-memory Source and Broadcaster keeping the latest
// relation per child frame. It resolves lookups by composing the
// parent chains of both frames up to a common ancestor.
type Tree struct {
	mu        sync.RWMutex
	relations map[string]Relation // keyed by child frame
}

// NewTree returns an empty frame tree.
func NewTree() *Tree {
	return &Tree{relations: make(map[string]Relation)}
}

// Broadcast records the latest relation for rel.Child.
func (t *Tree) Broadcast(rel Relation) error {
	if rel.Parent == "" || rel.Child == "" || rel.Parent == rel.Child {
		return fmt.Errorf("invalid frame relation %q -> %q", rel.Parent, rel.Child)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.relations[rel.Child] = rel
	return nil
}

// Lookup composes the chain from child up through its ancestors. The
// stamp is accepted for interface compatibility; Tree keeps only the
// latest sample per frame.
func (t *Tree) Lookup(parent, child string, _ time.Time) (geo.Transform2, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if parent == child {
		return geo.Identity(), nil
	}

	// Transform from each frame up to the root, noting every ancestor.
	toRoot := func(frame string) (map[string]geo.Transform2, []string) {
		chain := map[string]geo.Transform2{frame: geo.Identity()}
		order := []string{frame}
		cur := frame
		acc := geo.Identity()
		for {
			rel, ok := t.relations[cur]
			if !ok {
				return chain, order
			}
			if _, seen := chain[rel.Parent]; seen {
				// Cycle in the broadcast relations; stop walking.
				return chain, order
			}
			acc = rel.Pose.Mul(acc)
			cur = rel.Parent
			chain[cur] = acc
			order = append(order, cur)
		}
	}

	childChain, _ := toRoot(child)
	parentChain, parentOrder := toRoot(parent)

	// Walk the parent's ancestry from the bottom to find the lowest
	// common ancestor.
	for _, anc := range parentOrder {
		childToAnc, ok := childChain[anc]
		if !ok {
			continue
		}
		parentToAnc := parentChain[anc]
		return parentToAnc.Inverse().Mul(childToAnc), nil
	}

	return geo.Transform2{}, fmt.Errorf("no path from %q to %q: %w", child, parent, ErrUnavailable)
}
