package volume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/arena"
	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/logx"
)

func newTestGrid(t *testing.T, dims [3]int) (*Grid, *Materials) {
	t.Helper()
	mats := NewMaterials()
	// Registered generously (not just the 1-2 most tests use) since
	// SetVoxel now requires every written id to have a material entry.
	for id := uint32(1); id <= 32; id++ {
		mats.Set(id, MaterialEntry{IsVisible: true, IsSolid: true})
	}
	mats.Set(2, MaterialEntry{IsVisible: true, IsSolid: false})

	a := arena.New(8 << 20)
	g, err := NewGrid(a, dims, mats, nil)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g, mats
}

type spyLogger struct {
	debugs, warns []string
}

func (s *spyLogger) Debugf(format string, args ...any) {
	s.debugs = append(s.debugs, fmt.Sprintf(format, args...))
}

func (s *spyLogger) Warnf(format string, args ...any) {
	s.warns = append(s.warns, fmt.Sprintf(format, args...))
}

func TestLoggerReceivesCoalesceSummary(t *testing.T) {
	spy := &spyLogger{}
	mats := NewMaterials()
	mats.Set(1, MaterialEntry{IsVisible: true, IsSolid: true})
	a := arena.New(8 << 20)
	g, err := NewGrid(a, [3]int{1, 1, 1}, mats, spy)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}

	if err := g.SetVoxel([3]int{3, 3, 3}, 1); err != nil {
		t.Fatalf("SetVoxel: %v", err)
	}
	g.CoalesceDirtyBricks()

	if len(spy.debugs) == 0 {
		t.Fatal("expected at least one Debugf call during expand+coalesce")
	}
}

func TestNewGridAcceptsLogxLogger(t *testing.T) {
	mats := NewMaterials()
	mats.Set(1, MaterialEntry{IsVisible: true, IsSolid: true})
	a := arena.New(8 << 20)
	logger := logx.New("volume-test", true)
	g, err := NewGrid(a, [3]int{1, 1, 1}, mats, logger)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	if err := g.SetVoxel([3]int{1, 1, 1}, 1); err != nil {
		t.Fatalf("SetVoxel: %v", err)
	}
}

func TestNewGridAllAir(t *testing.T) {
	g, _ := newTestGrid(t, [3]int{2, 2, 2})
	if v := g.GetVoxel([3]int{10, 10, 10}); v != 0 {
		t.Errorf("fresh grid: expected air, got %d", v)
	}
}

func TestOutOfBoundsReadsAir(t *testing.T) {
	g, _ := newTestGrid(t, [3]int{1, 1, 1})
	if v := g.GetVoxel([3]int{-1, 0, 0}); v != 0 {
		t.Errorf("expected air for negative coordinate, got %d", v)
	}
	if v := g.GetVoxel([3]int{999, 0, 0}); v != 0 {
		t.Errorf("expected air for far out-of-bounds coordinate, got %d", v)
	}
}

// TestSetVoxelRejectsUnregisteredMaterial exercises spec §7's
// MaterialMissing defect: writing a voxel id with no material entry must
// be reported, not silently treated as air.
func TestSetVoxelRejectsUnregisteredMaterial(t *testing.T) {
	mats := NewMaterials()
	mats.Set(1, MaterialEntry{IsVisible: true, IsSolid: true})
	a := arena.New(8 << 20)
	g, err := NewGrid(a, [3]int{1, 1, 1}, mats, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = g.SetVoxel([3]int{0, 0, 0}, 99)
	if err == nil {
		t.Fatal("expected error for unregistered material id")
	}
	var missing *ErrMaterialMissing
	if !errors.As(err, &missing) || missing.VoxelID != 99 {
		t.Fatalf("expected *ErrMaterialMissing{VoxelID: 99}, got %#v", err)
	}
	if g.GetVoxel([3]int{0, 0, 0}) != 0 {
		t.Error("rejected write must not have mutated the grid")
	}
}

func TestOutOfBoundsWriteReportsError(t *testing.T) {
	g, _ := newTestGrid(t, [3]int{1, 1, 1})
	if err := g.SetVoxel([3]int{100, 0, 0}, 1); err == nil {
		t.Fatal("expected ErrInvalidCoordinate")
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	g, _ := newTestGrid(t, [3]int{2, 2, 2})
	pts := [][3]int{{0, 0, 0}, {63, 63, 63}, {64, 0, 0}, {7, 8, 9}, {100, 50, 20}}
	for i, p := range pts {
		if err := g.SetVoxel(p, uint32(i+1)); err != nil {
			t.Fatalf("SetVoxel(%v): %v", p, err)
		}
	}
	for i, p := range pts {
		if got := g.GetVoxel(p); got != uint32(i+1) {
			t.Errorf("GetVoxel(%v) = %d, want %d", p, got, i+1)
		}
	}
}

// TestCoalesceCollapsesUniformBricks: a whole top-level brick (64^3
// voxels) is painted uniformly, coalesced, and must end up with no live
// brick allocations while still answering queries correctly.
func TestCoalesceCollapsesUniformBricks(t *testing.T) {
	g, _ := newTestGrid(t, [3]int{1, 1, 1})

	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			for z := 0; z < 64; z++ {
				if err := g.SetVoxel([3]int{x, y, z}, 1); err != nil {
					t.Fatalf("SetVoxel: %v", err)
				}
			}
		}
	}

	g.CoalesceDirtyBricks()

	if len(g.blBrickAllocs) != 0 {
		t.Errorf("expected no live bottom brick allocations after full coalesce, got %d", len(g.blBrickAllocs))
	}
	if len(g.topBrickAllocs) != 0 {
		t.Errorf("expected no live top brick allocations after full coalesce, got %d", len(g.topBrickAllocs))
	}

	if got := g.GetVoxel([3]int{3, 3, 3}); got != 1 {
		t.Errorf("post-coalesce read wrong: got %d", got)
	}
}

func TestCoalescePartialBrickStaysExpanded(t *testing.T) {
	g, _ := newTestGrid(t, [3]int{1, 1, 1})

	if err := g.SetVoxel([3]int{0, 0, 0}, 1); err != nil {
		t.Fatal(err)
	}
	if err := g.SetVoxel([3]int{1, 0, 0}, 2); err != nil {
		t.Fatal(err)
	}

	g.CoalesceDirtyBricks()

	if len(g.blBrickAllocs) == 0 {
		t.Error("expected a live bottom brick allocation for a mixed brick")
	}
	if g.GetVoxel([3]int{0, 0, 0}) != 1 || g.GetVoxel([3]int{1, 0, 0}) != 2 {
		t.Error("mixed brick values changed across coalesce")
	}
}

// TestDirtyPagesBoundedBySingleVoxelWrite exercises spec Scenario E: a
// single voxel write should only dirty a small, bounded number of arena
// pages (the voxel word, the occupancy word, any expanded pointers) -
// never the whole arena.
func TestDirtyPagesBoundedBySingleVoxelWrite(t *testing.T) {
	mats := NewMaterials()
	mats.Set(1, MaterialEntry{IsVisible: true, IsSolid: true})
	a := arena.New(8 << 20)
	g, err := NewGrid(a, [3]int{4, 4, 4}, mats, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Warm up: force expansion so the first measured write is steady-state.
	if err := g.SetVoxel([3]int{0, 0, 0}, 1); err != nil {
		t.Fatal(err)
	}
	g.CoalesceDirtyBricks()
	if err := g.FlushToGPU(context.Background()); err != nil {
		t.Fatal(err)
	}

	before := a.DirtyPageCount()
	_ = before
	if err := g.SetVoxel([3]int{1, 0, 0}, 1); err != nil {
		t.Fatal(err)
	}
	after := a.DirtyPageCount()

	if after > 8 {
		t.Errorf("single voxel write dirtied %d pages, expected a small bounded count", after)
	}
}

func TestCoalesceAllAfterManualGrid(t *testing.T) {
	g, _ := newTestGrid(t, [3]int{1, 1, 1})
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			for z := 0; z < 64; z++ {
				if err := g.SetVoxel([3]int{x, y, z}, 2); err != nil {
					t.Fatal(err)
				}
			}
		}
	}
	// Don't rely on dirty tracking.
	g.dirtyBL = make(map[uint32]struct{})
	g.dirtyTL = make(map[uint32]struct{})

	g.CoalesceAll()

	if len(g.topBrickAllocs) != 0 || len(g.blBrickAllocs) != 0 {
		t.Error("CoalesceAll should collapse uniform region regardless of dirty tracking")
	}
	if g.GetVoxel([3]int{4, 4, 4}) != 2 {
		t.Error("CoalesceAll changed voxel values")
	}
}

func TestMaterialOccupancyTracksVisibility(t *testing.T) {
	g, mats := newTestGrid(t, [3]int{1, 1, 1})
	_ = mats

	if err := g.SetVoxel([3]int{2, 2, 2}, 1); err != nil { // visible, solid
		t.Fatal(err)
	}
	if err := g.SetVoxel([3]int{3, 2, 2}, 0); err != nil { // air
		t.Fatal(err)
	}

	buf := g.arena.Base()
	top, bl, _ := decompose([3]int{2, 2, 2})
	topOff := g.topAlloc.Offset + uint32(g.flatTop(top))*brickPtrSize
	topPtr := getBrickPtr(buf, topOff)
	topBrickOff := topPtr.BrickIndex() * topBrickSize
	blPtr := getBrickPtr(buf, childOffset(topBrickOff, flatBL(bl)))
	brickOff := blPtr.BrickIndex() * brickSize

	if !occBitAt(buf, brickOff, flatVoxel([3]int{2, 2, 2})) {
		t.Error("expected occupancy bit set for visible material")
	}
	if occBitAt(buf, brickOff, flatVoxel([3]int{3, 2, 2})) {
		t.Error("expected occupancy bit clear for air")
	}
}

// TestConcurrentSetVoxelSerializesUnderGridMutex exercises spec §5: many
// goroutines racing SetVoxel/CoalesceDirtyBricks through the same grid
// mutex must neither corrupt the dirty sets nor lose a write, even when
// several of them land in the same brick and force concurrent
// expandTopBrick/expandBottomBrick allocator calls.
func TestConcurrentSetVoxelSerializesUnderGridMutex(t *testing.T) {
	g, _ := newTestGrid(t, [3]int{4, 4, 4})

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			p := [3]int{i % 8, (i / 8) % 8, 0}
			if err := g.SetVoxel(p, uint32(i+1)); err != nil {
				t.Errorf("SetVoxel(%v): %v", p, err)
			}
		}(i)
	}
	wg.Wait()

	g.CoalesceDirtyBricks()

	for i := 0; i < writers; i++ {
		p := [3]int{i % 8, (i / 8) % 8, 0}
		if got := g.GetVoxel(p); got != uint32(i+1) {
			t.Errorf("GetVoxel(%v) = %d, want %d", p, got, i+1)
		}
	}
}

func occBitAt(buf []byte, brickByteOff uint32, voxIdx int) bool {
	wOff := occWordOffset(brickByteOff, voxIdx)
	word := uint32(buf[wOff]) | uint32(buf[wOff+1])<<8 | uint32(buf[wOff+2])<<16 | uint32(buf[wOff+3])<<24
	return word&(1<<uint(voxIdx%32)) != 0
}
