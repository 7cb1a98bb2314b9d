// Package arena implements the "Sketchy Buffer": a single contiguous
// byte arena with a virtual-offset suballocator, CPU-authoritative, with
// page-granular dirty tracking for an optional GPU mirror.
package arena

import (
	"context"
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// PageSize is the granularity at which dirty ranges are tracked and
// flushed to the GPU mirror.
const PageSize = 1024

// ErrOutOfArena is returned by Allocate when the arena cannot satisfy a
// request of the given size/alignment.
var ErrOutOfArena = errors.New("arena: out of space")

// Alloc is an opaque allocation handle. Offset is always a multiple of
// the alignment requested in Allocate.
type Alloc struct {
	Offset uint32
	handle uint32
}

type reservation struct {
	base  uint32 // power-of-two-aligned reservation start
	size  uint32 // total bytes reserved (size + alignment, see Allocate)
	inUse bool
}

// Arena is a fixed-size byte pool plus an offset suballocator. Reads
// always go through the CPU copy (Base); the GPU mirror, when present,
// is stale until FlushToGPU runs.
//
// Arena holds no lock of its own: per spec §5 the Sketchy Buffer's
// allocator, its dirty-page set, and the grid it backs are all
// serialized by the owning volume.Grid's mutex. Callers that share an
// Arena across goroutines without a Grid must serialize access
// themselves.
type Arena struct {
	cpu []byte

	reservations []reservation
	freeList     []uint32 // indices of released reservations, searched first-fit
	bump         uint32

	dirtyPages map[uint32]struct{}

	device *wgpu.Device
	gpuBuf *wgpu.Buffer
}

// New allocates a CPU-only arena of the given size. Freshly allocated
// regions contain undefined bytes; callers must initialize what they read.
func New(size uint32) *Arena {
	return &Arena{
		cpu:        make([]byte, size),
		dirtyPages: make(map[uint32]struct{}),
	}
}

// AttachGPU wires a wgpu device/buffer as the GPU mirror. The buffer must
// be at least as large as the arena and created with CopyDst usage.
func (a *Arena) AttachGPU(device *wgpu.Device, buf *wgpu.Buffer) {
	a.device = device
	a.gpuBuf = buf
}

func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

func nextPowerOfTwo(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) / align * align
}

// Allocate returns an offset, a multiple of alignment, with at least size
// bytes available before the next allocation's region. The underlying
// bump/free-list primitive only ever hands out power-of-two-aligned
// regions; when alignment is not itself a power of two (e.g. the 8-byte
// packed brick pointer's natural size lines up, but some typed regions
// don't), Allocate reserves size+alignment at a power-of-two-aligned
// location and advances the returned offset to the next multiple of the
// true alignment inside that reservation.
func (a *Arena) Allocate(size, alignment uint32) (Alloc, error) {
	if alignment == 0 {
		alignment = 1
	}

	reserveSize := size
	poAlign := alignment
	if !isPowerOfTwo(alignment) {
		reserveSize = size + alignment
		poAlign = nextPowerOfTwo(alignment)
	}

	base, idx, err := a.reserve(reserveSize, poAlign)
	if err != nil {
		return Alloc{}, err
	}

	offset := alignUp(base, alignment)
	return Alloc{Offset: offset, handle: idx}, nil
}

func (a *Arena) reserve(size, align uint32) (uint32, uint32, error) {
	for i := range a.freeList {
		idx := a.freeList[i]
		r := &a.reservations[idx]
		if !r.inUse && r.size >= size && r.base%align == 0 {
			r.inUse = true
			a.freeList = append(a.freeList[:i], a.freeList[i+1:]...)
			return r.base, idx, nil
		}
	}

	base := alignUp(a.bump, align)
	if uint64(base)+uint64(size) > uint64(len(a.cpu)) {
		return 0, 0, fmt.Errorf("%w: requested %d bytes at align %d, %d remaining", ErrOutOfArena, size, align, uint32(len(a.cpu))-min32(a.bump, uint32(len(a.cpu))))
	}
	a.bump = base + size

	a.reservations = append(a.reservations, reservation{base: base, size: size, inUse: true})
	return base, uint32(len(a.reservations) - 1), nil
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// Free releases the reservation backing alloc. Freeing an already-freed
// or foreign Alloc is a programmer defect.
func (a *Arena) Free(alloc Alloc) {
	if int(alloc.handle) >= len(a.reservations) {
		panic("arena: Free called with invalid handle")
	}
	r := &a.reservations[alloc.handle]
	if !r.inUse {
		panic("arena: double free")
	}
	r.inUse = false
	a.freeList = append(a.freeList, alloc.handle)
}

// Base returns the CPU-side backing slice. Index as Base()[offset:].
func (a *Arena) Base() []byte {
	return a.cpu
}

// MarkDirty records that [address, address+size) differs from the GPU
// mirror, translated to the set of whole pages it overlaps.
func (a *Arena) MarkDirty(address, size uint32) {
	if size == 0 {
		return
	}
	first := address / PageSize
	last := (address + size - 1) / PageSize
	for p := first; p <= last; p++ {
		a.dirtyPages[p] = struct{}{}
	}
}

// FlushToGPU copies every dirty page's CPU bytes into the GPU buffer and
// clears the dirty set. A whole page is flushed even if only part of it
// changed, since CPU-side bricks embed indices whose target pages must
// also land for the upload to be internally consistent. No-op if no GPU
// mirror is attached.
func (a *Arena) FlushToGPU(ctx context.Context) error {
	if a.device == nil || a.gpuBuf == nil {
		a.dirtyPages = make(map[uint32]struct{})
		return nil
	}

	queue := a.device.GetQueue()
	for page := range a.dirtyPages {
		start := page * PageSize
		end := start + PageSize
		if end > uint32(len(a.cpu)) {
			end = uint32(len(a.cpu))
		}
		if start >= end {
			continue
		}
		queue.WriteBuffer(a.gpuBuf, uint64(start), a.cpu[start:end])
	}
	a.dirtyPages = make(map[uint32]struct{})
	return nil
}

// DirtyPageCount reports the number of pages awaiting flush, for tests
// and instrumentation (spec §8 Scenario E: bounded dirty-page count).
func (a *Arena) DirtyPageCount() int {
	return len(a.dirtyPages)
}

// Size returns the total arena capacity in bytes.
func (a *Arena) Size() uint32 {
	return uint32(len(a.cpu))
}
