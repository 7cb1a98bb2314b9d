package volume

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Sphere fills a sphere in g with voxel id.
func Sphere(g *Grid, center mgl32.Vec3, radius float32, id uint32) error {
	r2 := radius * radius
	minBound, maxBound := boundsOf(center, radius)

	for x := minBound[0]; x <= maxBound[0]; x++ {
		for y := minBound[1]; y <= maxBound[1]; y++ {
			for z := minBound[2]; z <= maxBound[2]; z++ {
				dx := float32(x) - center.X() + 0.5
				dy := float32(y) - center.Y() + 0.5
				dz := float32(z) - center.Z() + 0.5
				if dx*dx+dy*dy+dz*dz <= r2 {
					if err := setIfInBounds(g, [3]int{x, y, z}, id); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// Cube fills an axis-aligned box in g with voxel id.
func Cube(g *Grid, minB, maxB mgl32.Vec3, id uint32) error {
	minI := [3]int{floor(minB.X()), floor(minB.Y()), floor(minB.Z())}
	maxI := [3]int{floor(maxB.X()), floor(maxB.Y()), floor(maxB.Z())}

	for x := minI[0]; x <= maxI[0]; x++ {
		for y := minI[1]; y <= maxI[1]; y++ {
			for z := minI[2]; z <= maxI[2]; z++ {
				if err := setIfInBounds(g, [3]int{x, y, z}, id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Cone fills a cone in g, base centered at base with radius, apex at tip.
func Cone(g *Grid, base, tip mgl32.Vec3, radius float32, id uint32) error {
	heightVec := tip.Sub(base)
	height := heightVec.Len()
	if height < 1e-5 {
		return nil
	}
	axis := heightVec.Normalize()

	maxDim := float32(math.Max(float64(radius), float64(height)))
	center := base.Add(tip).Mul(0.5)
	minB, maxB := boundsOf(center, maxDim)

	for x := minB[0]; x <= maxB[0]; x++ {
		for y := minB[1]; y <= maxB[1]; y++ {
			for z := minB[2]; z <= maxB[2]; z++ {
				p := mgl32.Vec3{float32(x) + 0.5, float32(y) + 0.5, float32(z) + 0.5}
				v := p.Sub(base)
				distOnAxis := v.Dot(axis)
				if distOnAxis < 0 || distOnAxis > height {
					continue
				}

				radiusAtDist := radius * (1.0 - distOnAxis/height)
				distToAxis2 := v.LenSqr() - distOnAxis*distOnAxis
				if distToAxis2 <= radiusAtDist*radiusAtDist {
					if err := setIfInBounds(g, [3]int{x, y, z}, id); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// Pyramid fills a square pyramid in g, base centered at base, apex at tip.
func Pyramid(g *Grid, base, tip mgl32.Vec3, size float32, id uint32) error {
	heightVec := tip.Sub(base)
	height := heightVec.Len()
	if height < 1e-5 {
		return nil
	}
	axis := heightVec.Normalize()

	up := mgl32.Vec3{0, 1, 0}
	if math.Abs(float64(axis.Dot(up))) > 0.99 {
		up = mgl32.Vec3{1, 0, 0}
	}
	right := axis.Cross(up).Normalize()
	forward := right.Cross(axis).Normalize()

	maxDim := float32(math.Max(float64(size), float64(height)))
	center := base.Add(tip).Mul(0.5)
	minB, maxB := boundsOf(center, maxDim)
	halfSize := size * 0.5

	for x := minB[0]; x <= maxB[0]; x++ {
		for y := minB[1]; y <= maxB[1]; y++ {
			for z := minB[2]; z <= maxB[2]; z++ {
				p := mgl32.Vec3{float32(x) + 0.5, float32(y) + 0.5, float32(z) + 0.5}
				v := p.Sub(base)
				distOnAxis := v.Dot(axis)
				if distOnAxis < 0 || distOnAxis > height {
					continue
				}

				s := halfSize * (1.0 - distOnAxis/height)
				dx := v.Dot(right)
				dz := v.Dot(forward)

				if math.Abs(float64(dx)) <= float64(s) && math.Abs(float64(dz)) <= float64(s) {
					if err := setIfInBounds(g, [3]int{x, y, z}, id); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// Point sets a single voxel.
func Point(g *Grid, x, y, z int, id uint32) error {
	return setIfInBounds(g, [3]int{x, y, z}, id)
}

func boundsOf(center mgl32.Vec3, radius float32) (min, max [3]int) {
	min = [3]int{
		int(math.Floor(float64(center.X() - radius))),
		int(math.Floor(float64(center.Y() - radius))),
		int(math.Floor(float64(center.Z() - radius))),
	}
	max = [3]int{
		int(math.Ceil(float64(center.X() + radius))),
		int(math.Ceil(float64(center.Y() + radius))),
		int(math.Ceil(float64(center.Z() + radius))),
	}
	return
}

func floor(v float32) int {
	return int(math.Floor(float64(v)))
}

// setIfInBounds sets a voxel and treats out-of-bounds coordinates as a
// silent no-op (callers iterate a shape's full bounding box, some of which
// may fall outside the grid), while still propagating allocator failures.
func setIfInBounds(g *Grid, p [3]int, id uint32) error {
	err := g.SetVoxel(p, id)
	if errors.Is(err, ErrInvalidCoordinate) {
		return nil
	}
	return err
}
