// Package dda implements the Amanatides-Woo integer ray march over a
// volume.Grid: the read-only traversal Ray DDA, the Grid Shape Adapter's
// ray cast, and the LineOfSight probe all walk the grid through Cast.
package dda

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/volume"
)

// Hit is the result of a ray hitting a non-air voxel.
type Hit struct {
	VoxelID    uint32
	VoxelCoord [3]int
	WorldHit   mgl32.Vec3
	FlatNormal mgl32.Vec3
}

// Cast walks from origin along dir (need not be unit length) up to
// maxSteps voxel boundaries, returning the first non-air voxel hit. A
// zero-length dir is a programmer defect (spec §4.3 Failure) and is not
// guarded against here; callers must not pass one.
func Cast(g *volume.Grid, origin, dir mgl32.Vec3, maxSteps int) (Hit, bool) {
	var deltaDist, step, sideDist [3]float32
	mapPos := [3]int{
		int(math.Floor(float64(origin[0]))),
		int(math.Floor(float64(origin[1]))),
		int(math.Floor(float64(origin[2]))),
	}

	for i := 0; i < 3; i++ {
		deltaDist[i] = float32(math.Abs(1 / float64(dir[i])))
		switch {
		case dir[i] > 0:
			step[i] = 1
		case dir[i] < 0:
			step[i] = -1
		default:
			step[i] = 0
		}
		var s float32
		if dir[i] >= 0 {
			s = 1
		}
		frac := origin[i] - float32(math.Floor(float64(origin[i])))
		sideDist[i] = (s - step[i]*frac) * deltaDist[i]
	}

	dims := g.VoxelDims()

	for n := 0; n < maxSteps; n++ {
		axis := selectAxis(sideDist)

		tHit := sideDist[axis]
		sideDist[axis] += deltaDist[axis]
		mapPos[axis] += int(step[axis])

		if !inBounds(mapPos, dims) {
			continue
		}
		id := g.GetVoxel(mapPos)
		if id == 0 {
			continue
		}

		normal := mgl32.Vec3{}
		normal[axis] = -step[axis]

		return Hit{
			VoxelID:    id,
			VoxelCoord: mapPos,
			WorldHit:   origin.Add(dir.Mul(tHit)),
			FlatNormal: normal,
		}, true
	}

	return Hit{}, false
}

// selectAxis picks the axis with smallest sideDist, ties broken in favor
// of the earlier axis in x, y, z order (spec §4.3).
func selectAxis(sideDist [3]float32) int {
	axis := 0
	if sideDist[1] < sideDist[axis] {
		axis = 1
	}
	if sideDist[2] < sideDist[axis] {
		axis = 2
	}
	return axis
}

func inBounds(p [3]int, dims [3]int) bool {
	return p[0] >= 0 && p[0] < dims[0] &&
		p[1] >= 0 && p[1] < dims[1] &&
		p[2] >= 0 && p[2] < dims[2]
}

// LineOfSight reports whether a straight ray from 'from' to 'to' is
// unobstructed by any solid voxel, grounded on the teacher's LOSProbe.
func LineOfSight(g *volume.Grid, from, to mgl32.Vec3) bool {
	diff := to.Sub(from)
	dist := diff.Len()
	if dist < 0.001 {
		return true
	}
	dir := diff.Normalize()

	hit, ok := Cast(g, from, dir, int(math.Ceil(float64(dist)))+1)
	if !ok {
		return true
	}
	hitDist := hit.WorldHit.Sub(from).Len()
	return hitDist >= dist-0.01
}
