// Package shape implements the Grid Shape Adapter: the custom physics
// shape that plugs a volume.Grid into a third-party rigid-body engine's
// convex-shape contract. The engine itself is out of scope; only the
// PhysicsEngine interface below stands in for it, grounded on physics.go's
// PhysicsCheckCollision/FindWorldContacts voxel-iteration-over-AABB style.
package shape

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/dda"
	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/volume"
)

// collideEpsilon and castEpsilon are the two fixed slop values spec §4.4.2
// calls out: a first epsilon expanding the query AABB to avoid sticking at
// contact, and a second shrinking the per-voxel unit box.
const (
	collideEpsilon = 0.1
	castEpsilon    = 0.0
)

// ConvexShape is the minimal surface the adapter needs from the engine's
// convex shape type.
type ConvexShape interface {
	LocalBounds() (min, max mgl32.Vec3)
}

// ShapeCast describes a swept convex-shape query, mirroring the engine's
// own shape-cast request shape.
type ShapeCast struct {
	Shape       ConvexShape
	Start       mgl32.Mat4
	Translation mgl32.Vec3
}

// Contact is one collision manifold point returned by the engine.
type Contact struct {
	SubShapeID uint16
	Point      mgl32.Vec3
	Normal     mgl32.Vec3
	Depth      float32
}

// CastResult is one hit returned by a shape-cast.
type CastResult struct {
	SubShapeID uint16
	Fraction   float32
}

// CollideSettings and CastSettings are opaque passthroughs to the engine;
// the adapter never inspects them.
type CollideSettings struct{ Data any }
type CastSettings struct{ Data any }

// PhysicsEngine is the contract the out-of-scope rigid-body engine
// provides (spec §6.1): a unit-box primitive dispatch for collide and
// cast against an arbitrary convex shape.
type PhysicsEngine interface {
	CollideConvexBox(other ConvexShape, transformOther mgl32.Mat4, boxCenter mgl32.Vec3, boxHalfExtent float32, subShapeID uint16, settings CollideSettings) []Contact
	CastConvexBox(cast ShapeCast, boxCenter mgl32.Vec3, boxHalfExtent float32, subShapeID uint16, settings CastSettings) (CastResult, bool)
}

// Ray is a local-space ray for CastRay.
type Ray struct {
	Origin mgl32.Vec3
	Dir    mgl32.Vec3
}

// GridShape is the physics-engine shape whose local space is the grid's
// voxel space (spec §4.4).
type GridShape struct {
	grid   *volume.Grid
	engine PhysicsEngine
}

// New builds a GridShape over grid, dispatching convex-vs-box primitives
// to engine.
func New(grid *volume.Grid, engine PhysicsEngine) *GridShape {
	return &GridShape{grid: grid, engine: engine}
}

// CastRay casts localRay up to tMax (a parametric multiple of Dir's
// length, per the engine's convention) and returns the fraction along
// the ray and the surface normal of the first solid voxel hit (spec
// §4.4.1).
func (s *GridShape) CastRay(localRay Ray, tMax float32) (fraction float32, normal mgl32.Vec3, ok bool) {
	fullLen := localRay.Dir.Len() * tMax
	if fullLen <= 0 {
		return 0, mgl32.Vec3{}, false
	}
	maxSteps := int(math.Ceil(float64(fullLen))) + maxDim(s.grid)

	hit, found := dda.Cast(s.grid, localRay.Origin, localRay.Dir, maxSteps)
	if !found {
		return 0, mgl32.Vec3{}, false
	}
	dist := hit.WorldHit.Sub(localRay.Origin).Len()
	if dist > fullLen {
		return 0, mgl32.Vec3{}, false
	}
	return dist / fullLen, hit.FlatNormal, true
}

// Collide dispatches the engine's convex-box-vs-otherShape primitive
// against every solid voxel inside otherShape's AABB (spec §4.4.2).
func (s *GridShape) Collide(other ConvexShape, transformOther mgl32.Mat4, settings CollideSettings) []Contact {
	lo, hi := transformedBounds(other, transformOther)
	lo, hi = expand(lo, hi, collideEpsilon)

	var contacts []Contact
	forEachSolidVoxel(s.grid, lo, hi, func(p [3]int, localIdx int) {
		id, ok := SubShapeID(localIdx)
		if !ok {
			return
		}
		center := voxelCenter(p)
		contacts = append(contacts, s.engine.CollideConvexBox(other, transformOther, center, 0.5-castEpsilon, id, settings)...)
	})
	return contacts
}

// CastShape sweeps shapeCast against every solid voxel in the swept AABB
// (spec §4.4.3).
func (s *GridShape) CastShape(shapeCast ShapeCast, settings CastSettings) []CastResult {
	startLo, startHi := transformedBounds(shapeCast.Shape, shapeCast.Start)
	endLo, endHi := startLo.Add(shapeCast.Translation), startHi.Add(shapeCast.Translation)
	lo := minVec(startLo, endLo)
	hi := maxVec(startHi, endHi)
	lo, hi = expand(lo, hi, collideEpsilon)

	var results []CastResult
	forEachSolidVoxel(s.grid, lo, hi, func(p [3]int, localIdx int) {
		id, ok := SubShapeID(localIdx)
		if !ok {
			return
		}
		center := voxelCenter(p)
		translated := shapeCast
		translated.Start = mgl32.Translate3D(-center.X(), -center.Y(), -center.Z()).Mul4(shapeCast.Start)
		if res, hit := s.engine.CastConvexBox(translated, mgl32.Vec3{}, 0.5-castEpsilon, id, settings); hit {
			results = append(results, res)
		}
	})
	return results
}

// SurfaceNormal returns the negation of the outward face normal of the
// solid voxel owning localSurfacePoint, i.e. a normal pointing into that
// voxel, matching the engine's inward convention (spec §4.4.4).
func (s *GridShape) SurfaceNormal(subShapeID uint16, localSurfacePoint mgl32.Vec3) mgl32.Vec3 {
	axis, pos0, pos1 := nearestBoundary(localSurfacePoint)

	solid := pos0
	id0 := voxelIDAtAxis(s.grid, localSurfacePoint, axis, pos0)
	id1 := voxelIDAtAxis(s.grid, localSurfacePoint, axis, pos1)
	if id0 == 0 && id1 != 0 {
		solid = pos1
	}

	center := axisVoxelCenter(localSurfacePoint, axis, solid)
	dir := localSurfacePoint.Sub(center)

	outward := largestComponentSign(dir)
	return outward.Mul(-1)
}

// LocalBounds returns the grid's full voxel-space bounds.
func (s *GridShape) LocalBounds() (min, max mgl32.Vec3) {
	dims := s.grid.VoxelDims()
	return mgl32.Vec3{}, mgl32.Vec3{float32(dims[0]), float32(dims[1]), float32(dims[2])}
}

// InnerRadius returns half of the grid's smallest dimension.
func (s *GridShape) InnerRadius() float32 {
	dims := s.grid.VoxelDims()
	m := dims[0]
	if dims[1] < m {
		m = dims[1]
	}
	if dims[2] < m {
		m = dims[2]
	}
	return float32(m) / 2
}

// ErrUnsupported is the value panicked with (per spec §7/§9 — the corpus
// aborts on these) by queries the grid shape cannot answer.
var ErrUnsupported = fmt.Errorf("shape: query not supported by GridShape")

// GetMassProperties, GetVolume, and triangle/point queries make no sense
// for a world collider (spec §4.4.5/§9); calling any of them is a defect.
func (s *GridShape) GetMassProperties() { panic(ErrUnsupported) }
func (s *GridShape) GetVolume() float32 { panic(ErrUnsupported) }

// SubShapeID derives a locally-unique sub-shape identifier from a voxel's
// flat index within the current query's local region, refusing (rather
// than silently wrapping) when it would not fit in 16 bits (spec §9 Open
// Question). Callers must clamp their query region when ok is false.
func SubShapeID(localIdx int) (uint16, bool) {
	if localIdx < 0 || localIdx > 0xFFFF {
		return 0, false
	}
	return uint16(localIdx), true
}

func maxDim(g *volume.Grid) int {
	dims := g.VoxelDims()
	m := dims[0]
	if dims[1] > m {
		m = dims[1]
	}
	if dims[2] > m {
		m = dims[2]
	}
	return m
}

func transformedBounds(shape ConvexShape, transform mgl32.Mat4) (min, max mgl32.Vec3) {
	lo, hi := shape.LocalBounds()
	corners := [8]mgl32.Vec3{
		{lo.X(), lo.Y(), lo.Z()}, {hi.X(), lo.Y(), lo.Z()},
		{lo.X(), hi.Y(), lo.Z()}, {hi.X(), hi.Y(), lo.Z()},
		{lo.X(), lo.Y(), hi.Z()}, {hi.X(), lo.Y(), hi.Z()},
		{lo.X(), hi.Y(), hi.Z()}, {hi.X(), hi.Y(), hi.Z()},
	}
	min = mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	max = mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, c := range corners {
		w := transform.Mul4x1(mgl32.Vec4{c.X(), c.Y(), c.Z(), 1}).Vec3()
		min = minVec(min, w)
		max = maxVec(max, w)
	}
	return
}

func expand(lo, hi mgl32.Vec3, eps float32) (mgl32.Vec3, mgl32.Vec3) {
	e := mgl32.Vec3{eps, eps, eps}
	return lo.Sub(e), hi.Add(e)
}

func minVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{fmin(a.X(), b.X()), fmin(a.Y(), b.Y()), fmin(a.Z(), b.Z())}
}

func maxVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{fmax(a.X(), b.X()), fmax(a.Y(), b.Y()), fmax(a.Z(), b.Z())}
}

func fmin(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func fmax(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// forEachSolidVoxel iterates every integer voxel position inside [lo,hi]
// that is non-air, passing both the grid-space position and its flat
// index relative to the AABB's own origin (the candidate sub-shape id
// before the 16-bit fit check).
func forEachSolidVoxel(g *volume.Grid, lo, hi mgl32.Vec3, f func(p [3]int, localIdx int)) {
	minI := [3]int{floorf(lo.X()), floorf(lo.Y()), floorf(lo.Z())}
	maxI := [3]int{floorf(hi.X()), floorf(hi.Y()), floorf(hi.Z())}

	w := maxI[0] - minI[0] + 1
	h := maxI[1] - minI[1] + 1

	for z := minI[2]; z <= maxI[2]; z++ {
		for y := minI[1]; y <= maxI[1]; y++ {
			for x := minI[0]; x <= maxI[0]; x++ {
				p := [3]int{x, y, z}
				if g.GetVoxel(p) == 0 {
					continue
				}
				lx, ly, lz := x-minI[0], y-minI[1], z-minI[2]
				localIdx := lz*w*h + ly*w + lx
				f(p, localIdx)
			}
		}
	}
}

func floorf(v float32) int {
	return int(math.Floor(float64(v)))
}

func voxelCenter(p [3]int) mgl32.Vec3 {
	return mgl32.Vec3{float32(p[0]) + 0.5, float32(p[1]) + 0.5, float32(p[2]) + 0.5}
}

// nearestBoundary picks the axis of localSurfacePoint closest to an
// integer boundary and returns the two voxel coordinates straddling it
// (pos0 below the boundary, pos1 above).
func nearestBoundary(p mgl32.Vec3) (axis int, pos0, pos1 int) {
	bestDist := float32(math.MaxFloat32)
	for i := 0; i < 3; i++ {
		nearest := math.Round(float64(p[i]))
		dist := float32(math.Abs(float64(p[i]) - nearest))
		if dist < bestDist {
			bestDist = dist
			axis = i
		}
	}
	nearestI := int(math.Round(float64(p[axis])))
	pos0 = nearestI - 1
	pos1 = nearestI
	return
}

func voxelIDAtAxis(g *volume.Grid, p mgl32.Vec3, axis, value int) uint32 {
	coord := [3]int{int(math.Floor(float64(p[0]))), int(math.Floor(float64(p[1]))), int(math.Floor(float64(p[2])))}
	coord[axis] = value
	return g.GetVoxel(coord)
}

func axisVoxelCenter(p mgl32.Vec3, axis, value int) mgl32.Vec3 {
	coord := [3]float32{p[0], p[1], p[2]}
	for i := 0; i < 3; i++ {
		if i != axis {
			coord[i] = float32(math.Floor(float64(p[i]))) + 0.5
		}
	}
	coord[axis] = float32(value) + 0.5
	return mgl32.Vec3{coord[0], coord[1], coord[2]}
}

func largestComponentSign(v mgl32.Vec3) mgl32.Vec3 {
	ax, ay, az := float32(math.Abs(float64(v[0]))), float32(math.Abs(float64(v[1]))), float32(math.Abs(float64(v[2])))
	out := mgl32.Vec3{}
	switch {
	case ax >= ay && ax >= az:
		out[0] = sign(v[0])
	case ay >= az:
		out[1] = sign(v[1])
	default:
		out[2] = sign(v[2])
	}
	return out
}

func sign(v float32) float32 {
	if v < 0 {
		return -1
	}
	return 1
}
