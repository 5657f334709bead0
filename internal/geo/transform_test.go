package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

const tol = 1e-12

func TestRotationMat2RoundTrip(t *testing.T) {
	t.Parallel()

	for _, angle := range []float64{0, 0.5, -0.5, math.Pi / 2, math.Pi - 1e-9, -math.Pi + 1e-9} {
		m := RotationMat2(angle)
		assert.InDelta(t, angle, m.Angle(), tol, "angle %f", angle)
		assert.InDelta(t, 1.0, m.Det(), tol, "determinant at %f", angle)
	}
}

func TestTransformCompose(t *testing.T) {
	t.Parallel()

	// Rotate 90 degrees then translate by (1, 0): origin maps to (1, 0),
	// the point (1, 0) maps to (1, 1).
	a := NewTransform2(Vec2{X: 1}, math.Pi/2)

	p := a.TransformPoint(Vec2{X: 1})
	assert.InDelta(t, 1.0, p.X, tol)
	assert.InDelta(t, 1.0, p.Y, tol)

	// Composition applies b first: a.Mul(b)(p) == a(b(p)).
	b := Translation(Vec2{X: 2})
	ab := a.Mul(b)
	want := a.TransformPoint(b.TransformPoint(Vec2{Y: 3}))
	got := ab.TransformPoint(Vec2{Y: 3})
	assert.InDelta(t, want.X, got.X, tol)
	assert.InDelta(t, want.Y, got.Y, tol)
}

func TestTransformInverse(t *testing.T) {
	t.Parallel()

	a := NewTransform2(Vec2{X: 2.5, Y: -1.25}, 1.1)
	inv := a.Inverse()

	p := Vec2{X: 3, Y: 4}
	back := inv.TransformPoint(a.TransformPoint(p))
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)

	id := a.Mul(inv)
	assert.InDelta(t, 0, id.Angle(), 1e-9)
	assert.InDelta(t, 0, id.T.Norm(), 1e-9)
}

func TestRenormalizedKeepsRotationProper(t *testing.T) {
	t.Parallel()

	// Compose many small rotations; determinant must not drift.
	m := IdentityMat2()
	step := RotationMat2(0.01)
	for i := 0; i < 10000; i++ {
		m = m.Mul(step).Renormalized()
	}
	assert.InDelta(t, 1.0, m.Det(), 1e-12)
}

func TestIsIdentity(t *testing.T) {
	t.Parallel()

	assert.True(t, Identity().IsIdentity())
	assert.False(t, Translation(Vec2{X: 1e-9}).IsIdentity())
	assert.False(t, NewTransform2(Vec2{}, 1e-9).IsIdentity())
}

func TestNormalizeAngle(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, -math.Pi+0.5, NormalizeAngle(math.Pi+0.5), tol)
	assert.InDelta(t, math.Pi-0.5, NormalizeAngle(-math.Pi-0.5), tol)
	assert.InDelta(t, 0.25, NormalizeAngle(0.25+4*math.Pi), 1e-12)
}
