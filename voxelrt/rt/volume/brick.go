package volume

// Brick geometry constants (spec §3). BLSide is the bottom-level brick
// side in voxels; TLSide is the top-level brick side in bottom-level
// bricks. One top-level brick therefore covers TLSide*BLSide voxels per
// axis.
const (
	BLSide = 8
	TLSide = 8

	VoxelsPerAxis  = BLSide         // 8
	BricksPerAxis  = TLSide         // 8
	VoxelsPerBrick = BLSide * BLSide * BLSide // 512
	BricksPerTop   = TLSide * TLSide * TLSide // 512

	occupancyWords = VoxelsPerBrick / 32 // 16
)

// ptrTag discriminates a brick-pointer's tagged union. Packed identically
// on CPU and GPU per spec §6.2/§9: tag byte, 3 bytes padding, 4-byte
// payload (8 bytes total).
type ptrTag uint8

const (
	tagAllSame    ptrTag = 0
	tagBrickIndex ptrTag = 1
)

// BrickPtr is the brick-pointer variant used at both the top and bottom
// level (spec §3 "Brick-pointer variant"). Either AllSame is true and
// Payload holds the uniform voxel ID, or AllSame is false and Payload
// holds a typed index (offsetBytes / sizeof(Brick) or sizeof(TopBrick))
// into the arena.
type BrickPtr struct {
	tag     ptrTag
	_       [3]byte // padding; keeps GPU/CPU layout identical
	Payload uint32
}

// AllSamePtr builds a pointer to a uniform brick holding voxel id v.
func AllSamePtr(v uint32) BrickPtr {
	return BrickPtr{tag: tagAllSame, Payload: v}
}

// IndexPtr builds a pointer to a real brick at the given typed index.
func IndexPtr(index uint32) BrickPtr {
	return BrickPtr{tag: tagBrickIndex, Payload: index}
}

// IsAllSame reports whether this pointer is in the collapsed/uniform
// state (spec §3 invariant 1: no brick storage owned in this case).
func (p BrickPtr) IsAllSame() bool { return p.tag == tagAllSame }

// UniformVoxel returns the uniform voxel ID. Only meaningful when
// IsAllSame() is true.
func (p BrickPtr) UniformVoxel() uint32 { return p.Payload }

// BrickIndex returns the typed brick index. Only meaningful when
// IsAllSame() is false.
func (p BrickPtr) BrickIndex() uint32 { return p.Payload }

// A bottom-level brick, laid out as it sits inside the arena (spec §3
// invariant 2, §6.2): VoxelsPerBrick little-endian uint32 voxel IDs,
// immediately followed by occupancyWords little-endian uint32 bitmap
// words, with Occupancy.bit(i) == materials[Voxels[i]].IsVisible for
// all i. Grid reads and writes this layout directly through the
// arena's byte slice (getBrickPtr/putBrickPtr and friends in grid.go)
// rather than through a Go struct, so the GPU's view of a brick is
// never more than a byte-for-byte copy away from the CPU's.
//
// A top-level brick is BricksPerTop consecutive BrickPtr values with
// no struct of its own, for the same reason.
