// Package nav implements the weighted A* pathfinder over a volume.Grid
// and its path cache. The priority queue is a container/heap.Interface,
// the same shape as the teacher's 2D navmesh queue generalized to 3D
// voxel coordinates.
package nav

import (
	"container/heap"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/sketchyvoxel/voxelcore/voxelrt/rt/volume"
)

// FindPathParams fully determines a pathfinding query; it is also the
// Path Cache's key.
type FindPathParams struct {
	Start            [3]int
	Goal             [3]int
	Height           int
	Weight           float32
	MaxNodesToSearch int
	CanFly           bool
}

type pathNode struct {
	pos      [3]int
	g        float32
	h        float32
	f        float32
	parent   *pathNode
	index    int
	sqDistToGoal float32
}

type priorityQueue []*pathNode

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if math.Abs(float64(pq[i].f-pq[j].f)) < 1e-3 {
		return pq[i].sqDistToGoal < pq[j].sqDistToGoal
	}
	return pq[i].f < pq[j].f
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	n := x.(*pathNode)
	n.index = len(*pq)
	*pq = append(*pq, n)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.index = -1
	*pq = old[:last]
	return n
}

var walkOffsets = [][3]int{
	{1, 0, 0}, {-1, 0, 0}, {0, 0, 1}, {0, 0, -1}, // lateral
	{0, 1, 0},  // up
	{0, -1, 0}, // down, needs no floor (only clearance)
}

var flyOffsets = [][3]int{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

func add(p, o [3]int) [3]int {
	return [3]int{p[0] + o[0], p[1] + o[1], p[2] + o[2]}
}

// hasClearance reports whether an agent of the given height fits at pos.
func hasClearance(g *volume.Grid, pos [3]int, height int) bool {
	for k := 0; k < height; k++ {
		if g.GetVoxel([3]int{pos[0], pos[1] + k, pos[2]}) != 0 {
			return false
		}
	}
	return true
}

func hasFloorBelow(g *volume.Grid, pos [3]int) bool {
	return g.GetVoxel([3]int{pos[0], pos[1] - 1, pos[2]}) != 0
}

// neighbors returns the reachable neighbor positions of pos along with
// the edge cost to reach each one, per the walking/flying rules.
func neighbors(g *volume.Grid, pos [3]int, height int, canFly bool) ([][3]int, []float32) {
	if !hasClearance(g, pos, height) {
		return nil, nil
	}

	if canFly {
		var positions [][3]int
		var costs []float32
		for _, off := range flyOffsets {
			n := add(pos, off)
			if !hasClearance(g, n, height) {
				continue
			}
			positions = append(positions, n)
			costs = append(costs, 1.0)
		}
		return positions, costs
	}

	floor := hasFloorBelow(g, pos)

	var positions [][3]int
	var costs []float32

	lateral := [][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 0, 1}, {0, 0, -1}}
	for _, off := range lateral {
		n := add(pos, off)
		if !hasClearance(g, n, height) {
			continue
		}
		nFloor := hasFloorBelow(g, n)
		if !floor && !nFloor {
			continue
		}
		var cost float32 = 1.0
		if !nFloor {
			cost = 1.125
		}
		positions = append(positions, n)
		costs = append(costs, cost)
	}

	if floor {
		up := add(pos, [3]int{0, 1, 0})
		if hasClearance(g, up, height) {
			positions = append(positions, up)
			costs = append(costs, 1.0)
		}
	}

	down := add(pos, [3]int{0, -1, 0})
	if hasClearance(g, down, height) {
		positions = append(positions, down)
		costs = append(costs, 0.5)
	}

	return positions, costs
}

func manhattan(a, b [3]int) float32 {
	return float32(abs(a[0]-b[0]) + abs(a[1]-b[1]) + abs(a[2]-b[2]))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sqDist(a [3]int, b [3]int) float32 {
	dx := float32(a[0] - b[0])
	dy := float32(a[1] - b[1])
	dz := float32(a[2] - b[2])
	return dx*dx + dy*dy + dz*dz
}

// FindPath runs weighted A* over grid's voxel coordinates per p, returning
// a forward-ordered list of voxel centers, or nil if no path was found
// within p.MaxNodesToSearch expansions.
func FindPath(g *volume.Grid, p FindPathParams) []mgl32.Vec3 {
	weight := p.Weight
	if weight == 0 {
		weight = 1.0
	}

	open := &priorityQueue{}
	heap.Init(open)

	visited := make(map[[3]int]*pathNode)

	start := &pathNode{
		pos:          p.Start,
		g:            0,
		h:            manhattan(p.Start, p.Goal) * weight,
		sqDistToGoal: sqDist(p.Start, p.Goal),
	}
	start.f = start.g + start.h
	heap.Push(open, start)
	visited[p.Start] = start

	expanded := 0
	var goalNode *pathNode

	for open.Len() > 0 {
		if expanded >= p.MaxNodesToSearch {
			break
		}
		current := heap.Pop(open).(*pathNode)
		expanded++

		if current.pos == p.Goal {
			goalNode = current
			break
		}

		positions, costs := neighbors(g, current.pos, p.Height, p.CanFly)
		for i, npos := range positions {
			tentativeG := current.g + costs[i]

			existing, ok := visited[npos]
			if ok && tentativeG >= existing.g {
				continue
			}

			if !ok {
				existing = &pathNode{pos: npos, index: -1}
				visited[npos] = existing
				existing.h = manhattan(npos, p.Goal) * weight
				existing.sqDistToGoal = sqDist(npos, p.Goal)
			}
			existing.g = tentativeG
			existing.f = existing.g + existing.h
			existing.parent = current

			if existing.index >= 0 {
				heap.Fix(open, existing.index)
			} else {
				heap.Push(open, existing)
			}
		}
	}

	if goalNode == nil {
		return nil
	}

	var reversed []pathNode
	for n := goalNode; n != nil; n = n.parent {
		reversed = append(reversed, *n)
	}
	// reversed is goal-to-start; drop the start node itself, so P.first
	// is the first step taken rather than the agent's own position.
	reversed = reversed[:len(reversed)-1]
	if len(reversed) == 0 {
		return nil
	}

	path := make([]mgl32.Vec3, len(reversed))
	for i, n := range reversed {
		j := len(reversed) - 1 - i
		path[j] = mgl32.Vec3{
			float32(n.pos[0]) + 0.5,
			float32(n.pos[1]) + 0.5,
			float32(n.pos[2]) + 0.5,
		}
	}
	return path
}
