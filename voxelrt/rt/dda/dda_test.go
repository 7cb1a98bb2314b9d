package dda

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/arena"
	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/volume"
)

func newGrid(t *testing.T) *volume.Grid {
	t.Helper()
	mats := volume.NewMaterials()
	mats.Set(1, volume.MaterialEntry{IsVisible: true, IsSolid: true})
	a := arena.New(4 << 20)
	g, err := volume.NewGrid(a, [3]int{2, 2, 2}, mats, nil)
	require.NoError(t, err)
	return g
}

// TestCastHitsExpectedVoxel exercises spec Scenario B.
func TestCastHitsExpectedVoxel(t *testing.T) {
	g := newGrid(t)
	require.NoError(t, g.SetVoxel([3]int{5, 5, 5}, 1))

	hit, ok := Cast(g, mgl32.Vec3{0.5, 5.5, 5.5}, mgl32.Vec3{1, 0, 0}, 10)
	require.True(t, ok)
	require.Equal(t, [3]int{5, 5, 5}, hit.VoxelCoord)
	require.Equal(t, mgl32.Vec3{-1, 0, 0}, hit.FlatNormal)
	require.InDelta(t, 5.0, hit.WorldHit.X(), 1e-4)
	require.InDelta(t, 5.5, hit.WorldHit.Y(), 1e-4)
	require.InDelta(t, 5.5, hit.WorldHit.Z(), 1e-4)
}

func TestCastMissesWithinBudget(t *testing.T) {
	g := newGrid(t)
	hit, ok := Cast(g, mgl32.Vec3{0.5, 0.5, 0.5}, mgl32.Vec3{1, 0, 0}, 4)
	require.False(t, ok)
	require.Equal(t, Hit{}, hit)
}

// TestCastAxisAlignedDirectionDoesNotNaN covers the boundary behavior
// requiring axis-unit-vector directions not to NaN the traversal.
func TestCastAxisAlignedDirectionDoesNotNaN(t *testing.T) {
	g := newGrid(t)
	require.NoError(t, g.SetVoxel([3]int{0, 0, 5}, 1))

	hit, ok := Cast(g, mgl32.Vec3{0.5, 0.5, 0.5}, mgl32.Vec3{0, 0, 1}, 10)
	require.True(t, ok)
	require.False(t, math.IsNaN(float64(hit.WorldHit.X())))
	require.False(t, math.IsNaN(float64(hit.WorldHit.Y())))
	require.False(t, math.IsNaN(float64(hit.WorldHit.Z())))
	require.Equal(t, [3]int{0, 0, 5}, hit.VoxelCoord)
}

func TestLineOfSightBlockedBySolidVoxel(t *testing.T) {
	g := newGrid(t)
	require.NoError(t, g.SetVoxel([3]int{5, 5, 5}, 1))

	require.False(t, LineOfSight(g, mgl32.Vec3{0.5, 5.5, 5.5}, mgl32.Vec3{10.5, 5.5, 5.5}))
	require.True(t, LineOfSight(g, mgl32.Vec3{0.5, 0.5, 0.5}, mgl32.Vec3{3.5, 0.5, 0.5}))
}

func TestLineOfSightSamePointIsVisible(t *testing.T) {
	g := newGrid(t)
	p := mgl32.Vec3{1, 1, 1}
	require.True(t, LineOfSight(g, p, p))
}
