// Package volume implements the spec's two-level sparse voxel grid: top
// level brick pointers -> top-level bricks -> bottom-level brick pointers
// -> bottom-level bricks of voxel IDs, stored inside a Sketchy Buffer
// (voxelrt/rt/arena). It generalizes the teacher's XBrickMap (a hash-map
// of sectors with no bounded dimensions and no backing arena) to a
// fixed-dimension, arena-indexed hierarchy with the exact invariants
// spec.md §3 requires.
package volume

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/arena"
)

const (
	brickPtrSize = 8 // tag(1) + pad(3) + payload(4)
	brickSize    = VoxelsPerBrick*4 + occupancyWords*4
	topBrickSize = BricksPerTop * brickPtrSize
)

// ErrInvalidCoordinate is returned by SetVoxel when p is outside the
// grid's bounds. Per spec §7 this is a programmer defect; the caller
// decides whether to abort.
var ErrInvalidCoordinate = errors.New("volume: coordinate out of bounds")

// Logger is the minimal logging surface the grid uses. *logx.DefaultLogger
// and logx.Nop() both satisfy it structurally.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}

// Grid is the two-level sparse voxel volume (spec §3/§4.2).
//
// Mu is the grid mutex (spec §5): it serializes SetVoxel,
// CoalesceDirtyBricks, CoalesceAll, and FlushToGPU against each other,
// which in turn serializes the Sketchy Buffer's allocator and dirty-page
// set (Arena itself holds no lock — see arena.Arena's doc comment) and
// the Path Cache (nav.FindPathCached and nav.InvalidateAllLocked lock
// Mu directly, since the cache must mutate only under the same lock as
// the grid it was computed against). GetVoxel is read-only and does not
// take Mu; per spec the surrounding caller is responsible for not
// running readers concurrently with a mutator.
type Grid struct {
	Mu sync.Mutex

	arena     *arena.Arena
	materials *Materials
	dims      [3]int // topLevelDims
	logger    Logger

	topAlloc arena.Alloc // backing the top-level pointer array
	topBase  uint32      // published base index, in units of sizeof(BrickPtr)

	topBrickAllocs map[uint32]arena.Alloc // keyed by top-brick byte offset
	blBrickAllocs  map[uint32]arena.Alloc // keyed by bottom-brick byte offset

	dirtyTL map[uint32]struct{} // byte offsets of touched top-level pointer slots
	dirtyBL map[uint32]struct{} // byte offsets of touched bottom-level pointer slots
}

// NewGrid allocates the top-level pointer array (all entries collapsed to
// uniform air) inside a and returns the grid (spec §4.2 Construction).
func NewGrid(a *arena.Arena, topLevelDims [3]int, materials *Materials, logger Logger) (*Grid, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	if materials == nil {
		materials = NewMaterials()
	}
	count := topLevelDims[0] * topLevelDims[1] * topLevelDims[2]
	if count <= 0 {
		return nil, fmt.Errorf("volume: invalid topLevelDims %v", topLevelDims)
	}

	alloc, err := a.Allocate(uint32(count*brickPtrSize), brickPtrSize)
	if err != nil {
		return nil, fmt.Errorf("volume: allocating top-level pointer array: %w", err)
	}

	g := &Grid{
		arena:          a,
		materials:      materials,
		dims:           topLevelDims,
		logger:         logger,
		topAlloc:       alloc,
		topBase:        alloc.Offset / brickPtrSize,
		topBrickAllocs: make(map[uint32]arena.Alloc),
		blBrickAllocs:  make(map[uint32]arena.Alloc),
		dirtyTL:        make(map[uint32]struct{}),
		dirtyBL:        make(map[uint32]struct{}),
	}

	buf := a.Base()
	for i := 0; i < count; i++ {
		off := alloc.Offset + uint32(i)*brickPtrSize
		putBrickPtr(buf, off, AllSamePtr(0))
	}
	a.MarkDirty(alloc.Offset, uint32(count)*brickPtrSize)

	return g, nil
}

// Materials returns the grid's material table.
func (g *Grid) Materials() *Materials { return g.materials }

// Dims returns the top-level dimensions (in top-level bricks).
func (g *Grid) Dims() [3]int { return g.dims }

// VoxelDims returns the voxel-space dimensions (topLevelDims * 64).
func (g *Grid) VoxelDims() [3]int {
	return [3]int{g.dims[0] * 64, g.dims[1] * 64, g.dims[2] * 64}
}

// TopLevelPointerBase returns the published base index (in units of
// sizeof(BrickPtr)) of the top-level pointer array, for the renderer
// (spec §6.2).
func (g *Grid) TopLevelPointerBase() uint32 { return g.topBase }

func (g *Grid) inBounds(p [3]int) bool {
	vd := g.VoxelDims()
	return p[0] >= 0 && p[0] < vd[0] &&
		p[1] >= 0 && p[1] < vd[1] &&
		p[2] >= 0 && p[2] < vd[2]
}

func decompose(p [3]int) (top, bl, local [3]int) {
	for i := 0; i < 3; i++ {
		top[i] = floorDiv(p[i], 64)
		bl[i] = floorMod(floorDiv(p[i], 8), 8)
		local[i] = floorMod(p[i], 8)
	}
	return
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

func (g *Grid) flatTop(c [3]int) int {
	tw, th := g.dims[0], g.dims[1]
	return c[2]*tw*th + c[1]*tw + c[0]
}

func flatBL(c [3]int) int {
	return c[2]*64 + c[1]*8 + c[0]
}

func flatVoxel(c [3]int) int {
	return c[2]*64 + c[1]*8 + c[0]
}

func getBrickPtr(buf []byte, off uint32) BrickPtr {
	tag := ptrTag(buf[off])
	payload := binary.LittleEndian.Uint32(buf[off+4 : off+8])
	return BrickPtr{tag: tag, Payload: payload}
}

func putBrickPtr(buf []byte, off uint32, p BrickPtr) {
	buf[off] = byte(p.tag)
	buf[off+1], buf[off+2], buf[off+3] = 0, 0, 0
	binary.LittleEndian.PutUint32(buf[off+4:off+8], p.Payload)
}

func childOffset(topBrickByteOff uint32, childIdx int) uint32 {
	return topBrickByteOff + uint32(childIdx)*brickPtrSize
}

func voxelOffset(brickByteOff uint32, voxIdx int) uint32 {
	return brickByteOff + uint32(voxIdx)*4
}

func occWordOffset(brickByteOff uint32, voxIdx int) uint32 {
	return brickByteOff + uint32(VoxelsPerBrick*4) + uint32(voxIdx/32)*4
}

// GetVoxel returns the voxel ID at p, or 0 (air) if p is outside the
// grid's bounds — never faults (spec §3 invariant 4).
func (g *Grid) GetVoxel(p [3]int) uint32 {
	if !g.inBounds(p) {
		return 0
	}
	buf := g.arena.Base()
	top, bl, local := decompose(p)

	topOff := g.topAlloc.Offset + uint32(g.flatTop(top))*brickPtrSize
	topPtr := getBrickPtr(buf, topOff)
	if topPtr.IsAllSame() {
		return topPtr.UniformVoxel()
	}

	topBrickOff := topPtr.BrickIndex() * topBrickSize
	blOff := childOffset(topBrickOff, flatBL(bl))
	blPtr := getBrickPtr(buf, blOff)
	if blPtr.IsAllSame() {
		return blPtr.UniformVoxel()
	}

	brickOff := blPtr.BrickIndex() * brickSize
	return binary.LittleEndian.Uint32(buf[voxelOffset(brickOff, flatVoxel(local)):])
}

// SetVoxel writes v at p. p must be in-bounds; out-of-bounds is reported
// as ErrInvalidCoordinate rather than silently ignored or faulting (spec
// §4.2/§7). v must have a registered material entry; an unregistered id
// is reported as *ErrMaterialMissing rather than silently treated as air,
// since writing an unknown voxel id is the defect spec §7 names
// MaterialMissing for. Allocator exhaustion propagates as
// arena.ErrOutOfArena.
func (g *Grid) SetVoxel(p [3]int, v uint32) error {
	if !g.inBounds(p) {
		return fmt.Errorf("%w: %v outside %v", ErrInvalidCoordinate, p, g.VoxelDims())
	}
	material, err := g.materials.MustGet(v)
	if err != nil {
		return fmt.Errorf("volume: SetVoxel(%v, %d): %w", p, v, err)
	}

	g.Mu.Lock()
	defer g.Mu.Unlock()

	buf := g.arena.Base()
	top, bl, local := decompose(p)
	topIdx := g.flatTop(top)
	topOff := g.topAlloc.Offset + uint32(topIdx)*brickPtrSize

	topPtr := getBrickPtr(buf, topOff)
	if topPtr.IsAllSame() {
		newPtr, err := g.expandTopBrick(topPtr.UniformVoxel())
		if err != nil {
			return err
		}
		putBrickPtr(buf, topOff, newPtr)
		g.arena.MarkDirty(topOff, brickPtrSize)
		topPtr = newPtr
	}

	topBrickOff := topPtr.BrickIndex() * topBrickSize
	blIdx := flatBL(bl)
	blOff := childOffset(topBrickOff, blIdx)
	blPtr := getBrickPtr(buf, blOff)
	if blPtr.IsAllSame() {
		oldUniform := blPtr.UniformVoxel()
		newPtr, err := g.expandBottomBrick(oldUniform)
		if err != nil {
			return err
		}
		putBrickPtr(buf, blOff, newPtr)
		g.arena.MarkDirty(blOff, brickPtrSize)
		blPtr = newPtr
	}

	brickOff := blPtr.BrickIndex() * brickSize
	voxIdx := flatVoxel(local)
	binary.LittleEndian.PutUint32(buf[voxelOffset(brickOff, voxIdx):], v)

	setOccBitInArena(buf, brickOff, voxIdx, material.IsVisible)

	g.arena.MarkDirty(voxelOffset(brickOff, voxIdx), 4)
	g.arena.MarkDirty(occWordOffset(brickOff, voxIdx), 4)

	g.dirtyBL[blOff] = struct{}{}
	g.dirtyTL[topOff] = struct{}{}

	return nil
}

func setOccBitInArena(buf []byte, brickByteOff uint32, voxIdx int, v bool) {
	wOff := occWordOffset(brickByteOff, voxIdx)
	word := binary.LittleEndian.Uint32(buf[wOff:])
	mask := uint32(1) << uint(voxIdx%32)
	if v {
		word |= mask
	} else {
		word &^= mask
	}
	binary.LittleEndian.PutUint32(buf[wOff:], word)
}

// expandTopBrick allocates a new top brick whose 512 children are all
// AllSame(oldUniform), per spec §4.2 setVoxel step 1.
func (g *Grid) expandTopBrick(oldUniform uint32) (BrickPtr, error) {
	alloc, err := g.arena.Allocate(topBrickSize, topBrickSize)
	if err != nil {
		g.logger.Warnf("expandTopBrick: %v", err)
		return BrickPtr{}, fmt.Errorf("volume: allocating top brick: %w", err)
	}
	g.logger.Debugf("expandTopBrick: allocated at offset %d, uniform=%d", alloc.Offset, oldUniform)
	buf := g.arena.Base()
	child := AllSamePtr(oldUniform)
	for i := 0; i < BricksPerTop; i++ {
		putBrickPtr(buf, childOffset(alloc.Offset, i), child)
	}
	g.arena.MarkDirty(alloc.Offset, topBrickSize)
	g.topBrickAllocs[alloc.Offset] = alloc
	return IndexPtr(alloc.Offset / topBrickSize), nil
}

// expandBottomBrick allocates a new bottom brick uniformly filled with
// oldUniform, occupancy set from the material table (spec §4.2 step 2).
func (g *Grid) expandBottomBrick(oldUniform uint32) (BrickPtr, error) {
	alloc, err := g.arena.Allocate(brickSize, brickSize)
	if err != nil {
		g.logger.Warnf("expandBottomBrick: %v", err)
		return BrickPtr{}, fmt.Errorf("volume: allocating bottom brick: %w", err)
	}
	g.logger.Debugf("expandBottomBrick: allocated at offset %d, uniform=%d", alloc.Offset, oldUniform)
	buf := g.arena.Base()
	visible := g.materials.Get(oldUniform).IsVisible

	for i := 0; i < VoxelsPerBrick; i++ {
		binary.LittleEndian.PutUint32(buf[voxelOffset(alloc.Offset, i):], oldUniform)
	}
	var occWord uint32
	if visible {
		occWord = 0xFFFFFFFF
	}
	for w := 0; w < occupancyWords; w++ {
		binary.LittleEndian.PutUint32(buf[alloc.Offset+uint32(VoxelsPerBrick*4)+uint32(w)*4:], occWord)
	}
	g.arena.MarkDirty(alloc.Offset, brickSize)
	g.blBrickAllocs[alloc.Offset] = alloc
	return IndexPtr(alloc.Offset / brickSize), nil
}

// CoalesceDirtyBricks collapses uniform bricks recorded dirty since the
// last coalesce back to scalar pointers and frees their storage (spec
// §4.2). Bottom level first, then top level, per spec ordering.
func (g *Grid) CoalesceDirtyBricks() {
	g.Mu.Lock()
	defer g.Mu.Unlock()

	touched := len(g.dirtyBL) + len(g.dirtyTL)
	for off := range g.dirtyBL {
		g.coalesceBottomAt(off)
	}
	g.dirtyBL = make(map[uint32]struct{})

	for off := range g.dirtyTL {
		g.coalesceTopAt(off)
	}
	g.dirtyTL = make(map[uint32]struct{})
	g.logger.Debugf("CoalesceDirtyBricks: examined %d dirty pointer slots", touched)
}

// FlushToGPU uploads every dirty page of the backing arena to its GPU
// mirror, under the grid mutex (spec §5: the dirty-page set is mutated
// only under the grid mutex).
func (g *Grid) FlushToGPU(ctx context.Context) error {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	return g.arena.FlushToGPU(ctx)
}

// CoalesceAll walks every top-level pointer (and, transitively, every
// bottom-level pointer) regardless of dirty tracking, used after bulk
// loads (spec §4.2/§4.7).
func (g *Grid) CoalesceAll() {
	g.Mu.Lock()
	defer g.Mu.Unlock()

	buf := g.arena.Base()
	count := g.dims[0] * g.dims[1] * g.dims[2]
	for i := 0; i < count; i++ {
		topOff := g.topAlloc.Offset + uint32(i)*brickPtrSize
		topPtr := getBrickPtr(buf, topOff)
		if topPtr.IsAllSame() {
			continue
		}
		topBrickOff := topPtr.BrickIndex() * topBrickSize
		for c := 0; c < BricksPerTop; c++ {
			g.coalesceBottomAt(childOffset(topBrickOff, c))
		}
		g.coalesceTopAt(topOff)
	}
	g.dirtyBL = make(map[uint32]struct{})
	g.dirtyTL = make(map[uint32]struct{})
}

func (g *Grid) coalesceBottomAt(blOff uint32) {
	buf := g.arena.Base()
	ptr := getBrickPtr(buf, blOff)
	if ptr.IsAllSame() {
		return
	}
	brickOff := ptr.BrickIndex() * brickSize

	first := binary.LittleEndian.Uint32(buf[voxelOffset(brickOff, 0):])
	uniform := true
	for i := 1; i < VoxelsPerBrick; i++ {
		if binary.LittleEndian.Uint32(buf[voxelOffset(brickOff, i):]) != first {
			uniform = false
			break
		}
	}
	if !uniform {
		return
	}

	if alloc, ok := g.blBrickAllocs[brickOff]; ok {
		g.arena.Free(alloc)
		delete(g.blBrickAllocs, brickOff)
	}
	putBrickPtr(buf, blOff, AllSamePtr(first))
	g.arena.MarkDirty(blOff, brickPtrSize)
}

func (g *Grid) coalesceTopAt(topOff uint32) {
	buf := g.arena.Base()
	ptr := getBrickPtr(buf, topOff)
	if ptr.IsAllSame() {
		return
	}
	topBrickOff := ptr.BrickIndex() * topBrickSize

	firstChild := getBrickPtr(buf, childOffset(topBrickOff, 0))
	if !firstChild.IsAllSame() {
		return
	}
	uniform := firstChild.UniformVoxel()
	for c := 1; c < BricksPerTop; c++ {
		child := getBrickPtr(buf, childOffset(topBrickOff, c))
		if !child.IsAllSame() || child.UniformVoxel() != uniform {
			return
		}
	}

	if alloc, ok := g.topBrickAllocs[topBrickOff]; ok {
		g.arena.Free(alloc)
		delete(g.topBrickAllocs, topBrickOff)
	}
	putBrickPtr(buf, topOff, AllSamePtr(uniform))
	g.arena.MarkDirty(topOff, brickPtrSize)
}
