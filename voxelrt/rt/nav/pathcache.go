package nav

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/volume"
)

// PathCache is a fixed-capacity ristretto cache over FindPathParams,
// keyed by the exact params value. Admission and eviction follow
// ristretto's frequency-based policy, not strict LRU order. Any
// confirmed grid change invalidates it wholesale; there is no
// per-region invalidation.
//
// PathCache holds no lock of its own (spec §5: "Path Cache is mutated
// only under the grid mutex"). FindPathCached and InvalidateAllLocked
// lock the volume.Grid's Mu directly around every read-modify-write of
// gen/cache; calling PathCache's methods directly without holding that
// lock is only safe single-threaded (as the tests do).
type PathCache struct {
	cache *ristretto.Cache
	gen   uint64
}

// NewPathCache builds a path cache sized for roughly maxEntries cached
// paths.
func NewPathCache(maxEntries int64) (*PathCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("nav: new path cache: %w", err)
	}
	return &PathCache{cache: cache}, nil
}

func (c *PathCache) key(p FindPathParams) string {
	return fmt.Sprintf("%d:%v:%v:%d:%f:%d:%t", c.gen, p.Start, p.Goal, p.Height, p.Weight, p.MaxNodesToSearch, p.CanFly)
}

// Get returns a cached path for p, if present.
func (c *PathCache) Get(p FindPathParams) ([]mgl32.Vec3, bool) {
	v, ok := c.cache.Get(c.key(p))
	if !ok {
		return nil, false
	}
	return v.([]mgl32.Vec3), true
}

// Put offers path to the cache under p's key, replacing any existing
// entry. The write is buffered: it becomes visible to Get asynchronously
// and may be dropped by ristretto's admission policy.
func (c *PathCache) Put(p FindPathParams, path []mgl32.Vec3) {
	c.cache.Set(c.key(p), path, 1)
}

// InvalidateAll drops every cached path. Called whenever the grid
// feeding this cache changes.
func (c *PathCache) InvalidateAll() {
	c.gen++
	c.cache.Clear()
}

// InvalidateAllLocked invalidates cache while holding g's mutex, so the
// generation bump and clear are serialized against any in-flight
// FindPathCached call the same way spec §5 requires of the grid's other
// mutating operations. Call this (not InvalidateAll directly) whenever a
// grid change is confirmed.
func InvalidateAllLocked(g *volume.Grid, cache *PathCache) {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	cache.InvalidateAll()
}

// FindPathCached returns a cached path for p if present, otherwise runs
// FindPath against g, caches the result (even an empty one, so repeated
// no-path queries don't re-search), and returns it. The whole
// check-then-search-then-insert sequence runs under g's mutex, so a
// concurrent InvalidateAllLocked can never interleave with it (spec §5:
// the Path Cache is mutated only under the grid mutex).
func FindPathCached(cache *PathCache, g *volume.Grid, p FindPathParams) []mgl32.Vec3 {
	g.Mu.Lock()
	defer g.Mu.Unlock()
	if path, ok := cache.Get(p); ok {
		return path
	}
	path := FindPath(g, p)
	cache.Put(p, path)
	return path
}
