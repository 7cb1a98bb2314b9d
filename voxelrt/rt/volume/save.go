package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/arena"
)

// SaveMagic identifies a serialized grid, mirroring the magic-number
// framing LoadVoxFile uses for its chunk format.
const SaveMagic = "SKVX"

// ErrSerializationInvalid is returned by Load when the stream's header
// (magic or version) doesn't match what this package writes (spec §7).
var ErrSerializationInvalid = errors.New("volume: invalid save stream")

// ErrSerializationTruncated is returned by Load when the stream ends
// before a complete grid has been read (spec §7). It wraps the
// underlying io error.
var ErrSerializationTruncated = errors.New("volume: truncated save stream")

// SaveFormatVersion is bumped whenever the on-disk layout changes. The
// spec leaves persistence format versioning out of the core's scope, but
// the core still needs a tripwire against reading a stale layout, so a
// uint32 field right after the magic is reserved for it.
const SaveFormatVersion uint32 = 1

// Save writes a self-describing snapshot of g: header, material table,
// then every top-level pointer and the bricks it reaches, in z-major
// then y then x order (spec §4.7/§6.4). The session tag is a random
// uuid, written but not interpreted by Load - callers can use it to
// detect whether a loaded save matches the session that produced it.
func (g *Grid) Save(w io.Writer) error {
	bw := &byteWriter{w: w}

	bw.bytes([]byte(SaveMagic))
	bw.u32(SaveFormatVersion)
	bw.u32(uint32(g.dims[0]))
	bw.u32(uint32(g.dims[1]))
	bw.u32(uint32(g.dims[2]))

	tag := uuid.New()
	bw.bytes(tag[:])

	entries := g.materials.All()
	bw.u32(uint32(len(entries)))
	for _, e := range entries {
		bw.bool(e.IsVisible)
		bw.bool(e.IsSolid)
	}

	buf := g.arena.Base()
	count := g.dims[0] * g.dims[1] * g.dims[2]
	for i := 0; i < count; i++ {
		topOff := g.topAlloc.Offset + uint32(i)*brickPtrSize
		topPtr := getBrickPtr(buf, topOff)
		bw.brickPtr(topPtr)
		if topPtr.IsAllSame() {
			continue
		}
		topBrickOff := topPtr.BrickIndex() * topBrickSize
		for c := 0; c < BricksPerTop; c++ {
			blPtr := getBrickPtr(buf, childOffset(topBrickOff, c))
			bw.brickPtr(blPtr)
			if blPtr.IsAllSame() {
				continue
			}
			brickOff := blPtr.BrickIndex() * brickSize
			for v := 0; v < VoxelsPerBrick; v++ {
				bw.u32(binary.LittleEndian.Uint32(buf[voxelOffset(brickOff, v):]))
			}
		}
	}

	return bw.err
}

// Load reconstructs a Grid from a stream written by Save into a, an
// arena the caller has already sized to hold the loaded data (an empty
// arena at least as large as the original is always sufficient, since
// Load never allocates more bricks than existed at Save time).
// Occupancy bits and the dirty-for-coalesce sets are rebuilt from
// scratch; CoalesceAll then re-establishes the collapsed-brick
// invariant (spec §4.2 invariant 1) for any brick whose persisted form
// happened not to be collapsed.
func Load(r io.Reader, a *arena.Arena) (*Grid, uuid.UUID, error) {
	br := &byteReader{r: r}

	var magic [4]byte
	br.bytes(magic[:])
	if br.err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: reading magic: %v", ErrSerializationTruncated, br.err)
	}
	if string(magic[:]) != SaveMagic {
		return nil, uuid.Nil, fmt.Errorf("%w: bad magic %q", ErrSerializationInvalid, magic)
	}
	version := br.u32()
	if br.err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: reading version: %v", ErrSerializationTruncated, br.err)
	}
	if version != SaveFormatVersion {
		return nil, uuid.Nil, fmt.Errorf("%w: unsupported save format version %d", ErrSerializationInvalid, version)
	}
	var dims [3]int
	dims[0] = int(br.u32())
	dims[1] = int(br.u32())
	dims[2] = int(br.u32())

	var tag uuid.UUID
	br.bytes(tag[:])

	n := br.u32()
	entries := make([]MaterialEntry, n)
	for i := range entries {
		entries[i] = MaterialEntry{IsVisible: br.bool(), IsSolid: br.bool()}
	}
	if br.err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: reading materials: %v", ErrSerializationTruncated, br.err)
	}
	materials := FromEntries(entries)

	g, err := NewGrid(a, dims, materials, nil)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("volume: allocating loaded grid: %w", err)
	}

	buf := g.arena.Base()
	count := dims[0] * dims[1] * dims[2]
	for i := 0; i < count; i++ {
		topOff := g.topAlloc.Offset + uint32(i)*brickPtrSize
		topPtr := br.brickPtr()
		if topPtr.IsAllSame() {
			putBrickPtr(buf, topOff, topPtr)
			continue
		}
		topAlloc, err := g.arena.Allocate(topBrickSize, topBrickSize)
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("volume: re-allocating top brick %d: %w", i, err)
		}
		g.topBrickAllocs[topAlloc.Offset] = topAlloc
		newTopPtr := IndexPtr(topAlloc.Offset / topBrickSize)
		putBrickPtr(buf, topOff, newTopPtr)

		for c := 0; c < BricksPerTop; c++ {
			childOff := childOffset(topAlloc.Offset, c)
			blPtr := br.brickPtr()
			if blPtr.IsAllSame() {
				putBrickPtr(buf, childOff, blPtr)
				continue
			}
			brickAlloc, err := g.arena.Allocate(brickSize, brickSize)
			if err != nil {
				return nil, uuid.Nil, fmt.Errorf("volume: re-allocating brick: %w", err)
			}
			g.blBrickAllocs[brickAlloc.Offset] = brickAlloc
			newBlPtr := IndexPtr(brickAlloc.Offset / brickSize)
			putBrickPtr(buf, childOff, newBlPtr)

			for v := 0; v < VoxelsPerBrick; v++ {
				voxel := br.u32()
				binary.LittleEndian.PutUint32(buf[voxelOffset(brickAlloc.Offset, v):], voxel)
				visible := materials.Get(voxel).IsVisible
				setOccBitInArena(buf, brickAlloc.Offset, v, visible)
			}
		}
	}
	if br.err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: reading brick data: %v", ErrSerializationTruncated, br.err)
	}

	g.arena.MarkDirty(0, g.arena.Size())
	g.CoalesceAll()

	return g, tag, nil
}

type byteWriter struct {
	w   io.Writer
	err error
}

func (bw *byteWriter) bytes(b []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(b)
}

func (bw *byteWriter) u32(v uint32) {
	if bw.err != nil {
		return
	}
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	_, bw.err = bw.w.Write(tmp[:])
}

func (bw *byteWriter) bool(v bool) {
	if bw.err != nil {
		return
	}
	var b [1]byte
	if v {
		b[0] = 1
	}
	_, bw.err = bw.w.Write(b[:])
}

func (bw *byteWriter) brickPtr(p BrickPtr) {
	if bw.err != nil {
		return
	}
	var tmp [8]byte
	putBrickPtr(tmp[:], 0, p)
	_, bw.err = bw.w.Write(tmp[:])
}

type byteReader struct {
	r   io.Reader
	err error
}

func (br *byteReader) bytes(b []byte) {
	if br.err != nil {
		return
	}
	_, br.err = io.ReadFull(br.r, b)
}

func (br *byteReader) u32() uint32 {
	if br.err != nil {
		return 0
	}
	var tmp [4]byte
	if _, br.err = io.ReadFull(br.r, tmp[:]); br.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(tmp[:])
}

func (br *byteReader) bool() bool {
	if br.err != nil {
		return false
	}
	var b [1]byte
	if _, br.err = io.ReadFull(br.r, b[:]); br.err != nil {
		return false
	}
	return b[0] != 0
}

func (br *byteReader) brickPtr() BrickPtr {
	if br.err != nil {
		return BrickPtr{}
	}
	var tmp [8]byte
	if _, br.err = io.ReadFull(br.r, tmp[:]); br.err != nil {
		return BrickPtr{}
	}
	return getBrickPtr(tmp[:], 0)
}
