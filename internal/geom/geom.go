// Package geom holds the small amount of 3D math needed to move points between
// world space and an anchor's local space.
package geom

import (
	"fmt"
	"math"

	"github.com/tphakala/fieldpin/internal/errors"
)

// Vec3 is a point or direction in meters.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Length returns the euclidean length of v.
func (v Vec3) Length() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Distance returns the distance between v and o.
func (v Vec3) Distance(o Vec3) float64 { return v.Sub(o).Length() }

// IsFinite reports whether all components are finite numbers.
func (v Vec3) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func (v Vec3) String() string { return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z) }

// Quat is a unit rotation quaternion.
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat is the zero rotation.
var IdentityQuat = Quat{W: 1}

// AxisAngle returns the rotation of angle radians around axis.
func AxisAngle(axis Vec3, angle float64) Quat {
	l := axis.Length()
	if l == 0 {
		return IdentityQuat
	}
	s := math.Sin(angle/2) / l
	return Quat{axis.X * s, axis.Y * s, axis.Z * s, math.Cos(angle / 2)}
}

// Transform is a rigid-plus-scale affine transform stored as a row-major 3x4 matrix.
// The implicit last row is (0, 0, 0, 1).
type Transform struct {
	M [3][4]float64
}

// Identity is the transform that maps every point to itself.
var Identity = Transform{M: [3][4]float64{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
}}

// Pose builds the transform that rotates by q and then translates by t.
func Pose(q Quat, t Vec3) Transform {
	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if n == 0 {
		q, n = IdentityQuat, 1
	}
	x, y, z, w := q.X/n, q.Y/n, q.Z/n, q.W/n

	return Transform{M: [3][4]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w), t.X},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w), t.Y},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y), t.Z},
	}}
}

// Translation returns the translation part of the transform.
func (t Transform) Translation() Vec3 {
	return Vec3{t.M[0][3], t.M[1][3], t.M[2][3]}
}

// Apply maps point p through the transform.
func (t Transform) Apply(p Vec3) Vec3 {
	m := &t.M
	return Vec3{
		m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3],
		m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3],
		m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3],
	}
}

// Mul returns the composition t∘o, applying o first.
func (t Transform) Mul(o Transform) Transform {
	var r Transform
	for i := range 3 {
		for j := range 4 {
			v := t.M[i][0]*o.M[0][j] + t.M[i][1]*o.M[1][j] + t.M[i][2]*o.M[2][j]
			if j == 3 {
				v += t.M[i][3]
			}
			r.M[i][j] = v
		}
	}
	return r
}

// Determinant of the linear 3x3 part.
func (t Transform) Determinant() float64 {
	m := &t.M
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// ErrSingular is returned when a transform has no inverse.
var ErrSingular = errors.NewStd("geom: transform is singular")

// singularEpsilon bounds the determinant below which a transform is not invertible.
const singularEpsilon = 1e-12

// Inverse returns the inverse transform.
func (t Transform) Inverse() (Transform, error) {
	det := t.Determinant()
	if math.Abs(det) < singularEpsilon {
		return Transform{}, ErrSingular
	}
	m := &t.M
	inv := 1 / det

	var r Transform
	r.M[0][0] = (m[1][1]*m[2][2] - m[1][2]*m[2][1]) * inv
	r.M[0][1] = (m[0][2]*m[2][1] - m[0][1]*m[2][2]) * inv
	r.M[0][2] = (m[0][1]*m[1][2] - m[0][2]*m[1][1]) * inv
	r.M[1][0] = (m[1][2]*m[2][0] - m[1][0]*m[2][2]) * inv
	r.M[1][1] = (m[0][0]*m[2][2] - m[0][2]*m[2][0]) * inv
	r.M[1][2] = (m[0][2]*m[1][0] - m[0][0]*m[1][2]) * inv
	r.M[2][0] = (m[1][0]*m[2][1] - m[1][1]*m[2][0]) * inv
	r.M[2][1] = (m[0][1]*m[2][0] - m[0][0]*m[2][1]) * inv
	r.M[2][2] = (m[0][0]*m[1][1] - m[0][1]*m[1][0]) * inv

	// translation: -R⁻¹·t
	tx, ty, tz := m[0][3], m[1][3], m[2][3]
	for i := range 3 {
		r.M[i][3] = -(r.M[i][0]*tx + r.M[i][1]*ty + r.M[i][2]*tz)
	}
	return r, nil
}

// ApproxEqual reports whether two points are within eps on every axis.
func ApproxEqual(a, b Vec3, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps && math.Abs(a.Z-b.Z) <= eps
}
