// Package geo provides the 2D rigid-body primitives used by the
// localization pipeline: vectors, rotation matrices and transforms.
package geo

import "math"

// Vec2 is a 2D point or direction in metres.
type Vec2 struct {
	X float64
	Y float64
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

// Scale returns v scaled by s.
func (v Vec2) Scale(s float64) Vec2 { return Vec2{v.X * s, v.Y * s} }

// Dot returns the dot product of v and o.
func (v Vec2) Dot(o Vec2) float64 { return v.X*o.X + v.Y*o.Y }

// Cross returns the 2D cross product (z component) of v and o.
func (v Vec2) Cross(o Vec2) float64 { return v.X*o.Y - v.Y*o.X }

// Norm returns the Euclidean length of v.
func (v Vec2) Norm() float64 { return math.Hypot(v.X, v.Y) }

// Mat2 is a 2x2 rotation matrix in row-major order:
//
//	| XX XY |
//	| YX YY |
type Mat2 struct {
	XX, XY float64
	YX, YY float64
}

// RotationMat2 returns the rotation matrix for the given angle in radians.
func RotationMat2(angle float64) Mat2 {
	c, s := math.Cos(angle), math.Sin(angle)
	return Mat2{XX: c, XY: -s, YX: s, YY: c}
}

// IdentityMat2 returns the identity rotation.
func IdentityMat2() Mat2 { return Mat2{XX: 1, YY: 1} }

// Mul returns the matrix product m * o.
func (m Mat2) Mul(o Mat2) Mat2 {
	return Mat2{
		XX: m.XX*o.XX + m.XY*o.YX,
		XY: m.XX*o.XY + m.XY*o.YY,
		YX: m.YX*o.XX + m.YY*o.YX,
		YY: m.YX*o.XY + m.YY*o.YY,
	}
}

// MulVec returns m * v.
func (m Mat2) MulVec(v Vec2) Vec2 {
	return Vec2{X: m.XX*v.X + m.XY*v.Y, Y: m.YX*v.X + m.YY*v.Y}
}

// Transpose returns the transpose of m. For a proper rotation this is
// also the inverse.
func (m Mat2) Transpose() Mat2 {
	return Mat2{XX: m.XX, XY: m.YX, YX: m.XY, YY: m.YY}
}

// Det returns the determinant of m.
func (m Mat2) Det() float64 { return m.XX*m.YY - m.XY*m.YX }

// Angle returns the rotation angle of m in radians, in (-pi, pi].
func (m Mat2) Angle() float64 { return math.Atan2(m.YX, m.XX) }

// Renormalized returns the nearest proper rotation to m. Repeated
// compositions of float rotations drift away from orthonormality; this
// re-projects via the extracted angle.
func (m Mat2) Renormalized() Mat2 { return RotationMat2(m.Angle()) }

// Transform2 is a 2D rigid transform: rotation R followed by
// translation T. Applied to a point p it yields R*p + T.
type Transform2 struct {
	R Mat2
	T Vec2
}

// Identity returns the identity transform.
func Identity() Transform2 {
	return Transform2{R: IdentityMat2()}
}

// NewTransform2 builds a transform from a translation and a heading
// angle in radians.
func NewTransform2(t Vec2, angle float64) Transform2 {
	return Transform2{R: RotationMat2(angle), T: t}
}

// Translation returns a pure translation transform.
func Translation(t Vec2) Transform2 {
	return Transform2{R: IdentityMat2(), T: t}
}

// Mul composes two transforms: (a.Mul(b))(p) == a(b(p)). The rotation
// component is renormalized to keep the orthonormality invariant.
func (a Transform2) Mul(b Transform2) Transform2 {
	return Transform2{
		R: a.R.Mul(b.R).Renormalized(),
		T: a.R.MulVec(b.T).Add(a.T),
	}
}

// Inverse returns the transform that undoes a.
func (a Transform2) Inverse() Transform2 {
	rt := a.R.Transpose()
	return Transform2{R: rt, T: rt.MulVec(a.T).Scale(-1)}
}

// TransformPoint applies a to the point p.
func (a Transform2) TransformPoint(p Vec2) Vec2 {
	return a.R.MulVec(p).Add(a.T)
}

// Angle returns the heading angle of a in radians.
func (a Transform2) Angle() float64 { return a.R.Angle() }

// IsIdentity reports whether a is exactly the identity transform.
// Used to skip noise injection when the robot has not moved.
func (a Transform2) IsIdentity() bool {
	return a.R == IdentityMat2() && a.T == (Vec2{})
}

// NormalizeAngle wraps an angle to (-pi, pi].
func NormalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
