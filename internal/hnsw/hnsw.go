// Package hnsw implements a minimal Hierarchical Navigable Small World
// index over cosine distance. It backs core.ExpertIndex: insertion takes
// a writer lock, search a reader lock, and no deletion is supported: every
// inserted member stays searchable for the lifetime of the Index. Neither
// core.ExpertIndex nor the orchestrator filters offline workers out of
// search results.
package hnsw

import (
	"container/heap"
	"errors"
	"math"
	"math/rand"
	"sync"
)

// ErrDimensionMismatch is returned by Add when the vector length differs
// from the index's configured dimension.
var ErrDimensionMismatch = errors.New("hnsw: dimension mismatch")

// Params configures index construction. Defaults mirror common HNSW
// presets (M=16, efConstruction=200).
type Params struct {
	M              int
	EfConstruction int
	MaxElements    int
}

func (p Params) withDefaults() Params {
	if p.M <= 0 {
		p.M = 16
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = 200
	}
	if p.MaxElements <= 0 {
		p.MaxElements = 1 << 20
	}
	return p
}

type node struct {
	label     int
	vector    []float32
	norm      float32
	neighbors [][]int // neighbors[level] = neighbor labels
}

// Index is a cosine-distance HNSW graph. The zero value is not usable; call
// New.
type Index struct {
	mu         sync.RWMutex
	dim        int
	params     Params
	nodes      []*node
	entryPoint int
	maxLevel   int
	mL         float64
	rng        *rand.Rand
	insertSeq  int
}

// New constructs an empty Index over vectors of the given dimension.
func New(dim int, p Params) *Index {
	p = p.withDefaults()
	return &Index{
		dim:        dim,
		params:     p,
		entryPoint: -1,
		mL:         1.0 / math.Log(float64(max(p.M, 2))),
		rng:        rand.New(rand.NewSource(1)),
	}
}

// Size returns the number of indexed elements.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

func cosineDistance(a, b []float32, normA, normB float32) float32 {
	if normA == 0 || normB == 0 {
		return 1
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	sim := dot / (normA * normB)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

func vecNorm(v []float32) float32 {
	var sum float32
	for _, f := range v {
		sum += f * f
	}
	return float32(math.Sqrt(float64(sum)))
}

func (idx *Index) randomLevel() int {
	lvl := int(math.Floor(-math.Log(idx.rng.Float64()) * idx.mL))
	return lvl
}

// candidate is a (label, distance) pair used by the search heaps.
type candidate struct {
	label int
	dist  float32
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Add inserts a vector, returning its internal label. Labels are never
// reused within the lifetime of an Index.
func (idx *Index) Add(vector []float32) (int, error) {
	if len(vector) != idx.dim {
		return 0, ErrDimensionMismatch
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	v := make([]float32, len(vector))
	copy(v, vector)
	level := idx.randomLevel()
	n := &node{
		label:     len(idx.nodes),
		vector:    v,
		norm:      vecNorm(v),
		neighbors: make([][]int, level+1),
	}
	label := n.label
	idx.nodes = append(idx.nodes, n)

	if idx.entryPoint == -1 {
		idx.entryPoint = label
		idx.maxLevel = level
		return label, nil
	}

	ep := idx.entryPoint
	curDist := idx.distTo(ep, v, vecNorm(v))
	for l := idx.maxLevel; l > level; l-- {
		ep, curDist = idx.greedyDescend(ep, curDist, v, l)
	}

	for l := min(level, idx.maxLevel); l >= 0; l-- {
		candidates := idx.searchLayer(v, ep, idx.params.EfConstruction, l)
		selected := idx.selectNeighbors(candidates, idx.params.M)
		n.neighbors[l] = selected
		for _, nb := range selected {
			idx.connect(nb, label, l)
		}
		if len(candidates) > 0 {
			ep = candidates[0].label
		}
	}

	if level > idx.maxLevel {
		idx.maxLevel = level
		idx.entryPoint = label
	}
	return label, nil
}

func (idx *Index) distTo(label int, v []float32, vNorm float32) float32 {
	n := idx.nodes[label]
	return cosineDistance(v, n.vector, vNorm, n.norm)
}

func (idx *Index) greedyDescend(ep int, epDist float32, v []float32, level int) (int, float32) {
	improved := true
	vNorm := vecNorm(v)
	for improved {
		improved = false
		for _, nb := range idx.neighborsAt(ep, level) {
			d := idx.distTo(nb, v, vNorm)
			if d < epDist {
				ep, epDist = nb, d
				improved = true
			}
		}
	}
	return ep, epDist
}

func (idx *Index) neighborsAt(label, level int) []int {
	n := idx.nodes[label]
	if level >= len(n.neighbors) {
		return nil
	}
	return n.neighbors[level]
}

// searchLayer returns candidates sorted by ascending distance, best first.
func (idx *Index) searchLayer(query []float32, ep int, ef int, level int) []candidate {
	qNorm := vecNorm(query)
	visited := map[int]bool{ep: true}
	epDist := idx.distTo(ep, query, qNorm)

	candidates := &minHeap{{label: ep, dist: epDist}}
	heap.Init(candidates)
	results := &maxHeap{{label: ep, dist: epDist}}
	heap.Init(results)

	for candidates.Len() > 0 {
		cur := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && cur.dist > (*results)[0].dist {
			break
		}
		for _, nb := range idx.neighborsAt(cur.label, level) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := idx.distTo(nb, query, qNorm)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, candidate{label: nb, dist: d})
				heap.Push(results, candidate{label: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

func (idx *Index) selectNeighbors(candidates []candidate, m int) []int {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]int, len(candidates))
	for i, c := range candidates {
		out[i] = c.label
	}
	return out
}

func (idx *Index) connect(a, b, level int) {
	na := idx.nodes[a]
	for level >= len(na.neighbors) {
		na.neighbors = append(na.neighbors, nil)
	}
	na.neighbors[level] = append(na.neighbors[level], b)
	if len(na.neighbors[level]) > idx.params.M*2 {
		// prune to the M closest, keeping the graph degree-bounded.
		cands := make([]candidate, 0, len(na.neighbors[level]))
		for _, nb := range na.neighbors[level] {
			cands = append(cands, candidate{label: nb, dist: idx.distTo(nb, na.vector, na.norm)})
		}
		for i := 1; i < len(cands); i++ {
			for j := i; j > 0 && cands[j].dist < cands[j-1].dist; j-- {
				cands[j], cands[j-1] = cands[j-1], cands[j]
			}
		}
		na.neighbors[level] = idx.selectNeighbors(cands, idx.params.M)
	}
}

// Result is a (label, distance) search hit.
type Result struct {
	Label int
	Dist  float32
}

// Search returns up to min(k, Size()) nearest neighbors to query, sorted by
// ascending cosine distance. ef is the candidate-list size at query time
// (callers typically fix ef = max(k, 16)).
func (idx *Index) Search(query []float32, k, ef int) ([]Result, error) {
	if len(query) != idx.dim {
		return nil, ErrDimensionMismatch
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.entryPoint == -1 {
		return nil, nil
	}
	if ef < k {
		ef = k
	}

	qNorm := vecNorm(query)
	ep := idx.entryPoint
	epDist := idx.distTo(ep, query, qNorm)
	for l := idx.maxLevel; l > 0; l-- {
		ep, epDist = idx.greedyDescend(ep, epDist, query, l)
	}

	candidates := idx.searchLayer(query, ep, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{Label: c.label, Dist: c.dist}
	}
	return out, nil
}
