package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func TestPoseAppliesRotationThenTranslation(t *testing.T) {
	t.Parallel()

	// 90 degrees around Y maps +X to -Z
	tr := Pose(AxisAngle(Vec3{Y: 1}, math.Pi/2), Vec3{X: 1, Y: 2, Z: 3})
	got := tr.Apply(Vec3{X: 1})

	assert.True(t, ApproxEqual(Vec3{X: 1, Y: 2, Z: 2}, got, eps), "got %v", got)
}

func TestInverseRoundTrip(t *testing.T) {
	t.Parallel()

	poses := []Transform{
		Identity,
		Pose(IdentityQuat, Vec3{X: -4, Y: 0.5, Z: 10}),
		Pose(AxisAngle(Vec3{X: 1, Y: 1, Z: 0}, 1.1), Vec3{X: 0.3, Y: -2, Z: 1.5}),
		Pose(AxisAngle(Vec3{Z: 1}, -2.7), Vec3{}),
	}
	points := []Vec3{{}, {X: 1, Y: 2, Z: 3}, {X: -0.25, Y: 7, Z: -3.5}}

	for _, p := range poses {
		inv, err := p.Inverse()
		require.NoError(t, err)
		for _, pt := range points {
			assert.True(t, ApproxEqual(pt, inv.Apply(p.Apply(pt)), 1e-9))
			assert.True(t, ApproxEqual(pt, p.Apply(inv.Apply(pt)), 1e-9))
		}
		assert.True(t, ApproxEqual(Identity.Translation(), p.Mul(inv).Translation(), 1e-9))
	}
}

func TestInverseSingular(t *testing.T) {
	t.Parallel()

	_, err := Transform{}.Inverse()
	require.ErrorIs(t, err, ErrSingular)
}

func TestVec3Helpers(t *testing.T) {
	t.Parallel()

	v := Vec3{X: 3, Y: 4}
	assert.InDelta(t, 5.0, v.Length(), eps)
	assert.InDelta(t, 5.0, Vec3{}.Distance(v), eps)
	assert.Equal(t, Vec3{X: 6, Y: 8}, v.Scale(2))
	assert.True(t, v.IsFinite())
	assert.False(t, Vec3{X: math.NaN()}.IsFinite())
	assert.Equal(t, "(3.000, 4.000, 0.000)", v.String())
}
