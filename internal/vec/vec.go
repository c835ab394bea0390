// Package vec implements an approximate nearest-neighbour index over
// fixed-dimension embeddings using a hierarchical navigable small-world
// graph under cosine distance.
package vec

import (
	"container/heap"
	"math"
	"sort"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/sunilkgrao/aethervault/internal/types"
)

const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
)

type node struct {
	frameID types.FrameID
	vector  []float64
	// neighbors[level] holds this node's neighbour frame IDs at that level.
	neighbors [][]types.FrameID
	level     int
}

// Index is an HNSW graph over fixed-dimension vectors.
type Index struct {
	mu sync.RWMutex

	dim            int
	m              int
	efConstruction int

	rng *rand.Rand

	nodes   map[types.FrameID]*node
	entry   types.FrameID
	maxLvl  int
	levelML float64
}

// New builds an empty index for vectors of the given dimension, seeded
// deterministically so identical insert orders under the same seed produce
// identical graphs.
func New(dim int, seed uint64) *Index {
	return &Index{
		dim:            dim,
		m:              DefaultM,
		efConstruction: DefaultEfConstruction,
		rng:            rand.New(rand.NewSource(seed)),
		nodes:          map[types.FrameID]*node{},
		levelML:        1 / math.Log(float64(DefaultM)),
	}
}

func (idx *Index) randomLevel() int {
	return int(math.Floor(-math.Log(idx.rng.Float64()) * idx.levelML))
}

func cosineDistance(a, b []float64) float64 {
	dot := floats.Dot(a, b)
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	sim := dot / (na * nb)
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

// EmbedFrame inserts or replaces the vector for frameID. It returns
// ErrBadDimension if vector's length doesn't match the index dimension.
func (idx *Index) EmbedFrame(frameID types.FrameID, vector []float64) error {
	if len(vector) != idx.dim {
		return types.ErrBadDimension
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cp := append([]float64(nil), vector...)
	if existing, ok := idx.nodes[frameID]; ok {
		existing.vector = cp
		return nil
	}

	level := idx.randomLevel()
	n := &node{frameID: frameID, vector: cp, level: level, neighbors: make([][]types.FrameID, level+1)}

	if len(idx.nodes) == 0 {
		idx.nodes[frameID] = n
		idx.entry = frameID
		idx.maxLvl = level
		return nil
	}

	cur := idx.entry
	curDist := cosineDistance(idx.nodes[cur].vector, cp)
	for lvl := idx.maxLvl; lvl > level; lvl-- {
		cur, curDist = idx.greedyDescend(cur, curDist, cp, lvl)
	}

	for lvl := min(level, idx.maxLvl); lvl >= 0; lvl-- {
		candidates := idx.searchLayer(cp, cur, idx.efConstruction, lvl)
		selected := selectNeighbors(candidates, idx.m)
		n.neighbors[lvl] = selected
		for _, nb := range selected {
			idx.connect(nb, frameID, lvl)
		}
		if len(candidates) > 0 {
			cur = candidates[0].id
		}
	}

	idx.nodes[frameID] = n
	if level > idx.maxLvl {
		idx.maxLvl = level
		idx.entry = frameID
	}
	return nil
}

func (idx *Index) connect(from, to types.FrameID, lvl int) {
	n := idx.nodes[from]
	if n == nil || lvl > n.level {
		return
	}
	n.neighbors[lvl] = append(n.neighbors[lvl], to)
	if len(n.neighbors[lvl]) > idx.m*2 {
		cands := make([]candidate, 0, len(n.neighbors[lvl]))
		for _, id := range n.neighbors[lvl] {
			cands = append(cands, candidate{id: id, dist: cosineDistance(n.vector, idx.nodes[id].vector)})
		}
		n.neighbors[lvl] = selectNeighbors(cands, idx.m)
	}
}

type candidate struct {
	id   types.FrameID
	dist float64
}

func (idx *Index) greedyDescend(entry types.FrameID, entryDist float64, target []float64, lvl int) (types.FrameID, float64) {
	cur, curDist := entry, entryDist
	for {
		improved := false
		for _, nb := range idx.nodes[cur].neighbors[lvl] {
			d := cosineDistance(idx.nodes[nb].vector, target)
			if d < curDist {
				cur, curDist = nb, d
				improved = true
			}
		}
		if !improved {
			return cur, curDist
		}
	}
}

// searchLayer performs a best-first search at a single level, returning up
// to ef candidates ordered by ascending distance.
func (idx *Index) searchLayer(target []float64, entry types.FrameID, ef int, lvl int) []candidate {
	visited := map[types.FrameID]bool{entry: true}
	entryDist := cosineDistance(idx.nodes[entry].vector, target)

	candHeap := &minHeap{{id: entry, dist: entryDist}}
	heap.Init(candHeap)
	resultHeap := &maxHeap{{id: entry, dist: entryDist}}
	heap.Init(resultHeap)

	for candHeap.Len() > 0 {
		c := heap.Pop(candHeap).(candidate)
		if resultHeap.Len() >= ef && c.dist > (*resultHeap)[0].dist {
			break
		}
		n := idx.nodes[c.id]
		if lvl > n.level {
			continue
		}
		for _, nbID := range n.neighbors[lvl] {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true
			d := cosineDistance(idx.nodes[nbID].vector, target)
			if resultHeap.Len() < ef || d < (*resultHeap)[0].dist {
				heap.Push(candHeap, candidate{id: nbID, dist: d})
				heap.Push(resultHeap, candidate{id: nbID, dist: d})
				if resultHeap.Len() > ef {
					heap.Pop(resultHeap)
				}
			}
		}
	}

	out := make([]candidate, resultHeap.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(resultHeap).(candidate)
	}
	return out
}

func selectNeighbors(cands []candidate, m int) []types.FrameID {
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > m {
		cands = cands[:m]
	}
	out := make([]types.FrameID, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

// Result is one ranked nearest-neighbour hit.
type Result struct {
	FrameID  types.FrameID
	Distance float64
}

// Filter reports whether a candidate frame should survive post-filtering.
type Filter func(types.FrameID) bool

// Search returns the topK nearest neighbours of vector under cosine
// distance, widening efSearch when post-filtering would drop more than half
// the candidates.
func (idx *Index) Search(vector []float64, topK int, efSearch int, filter Filter) ([]Result, error) {
	if len(vector) != idx.dim {
		return nil, types.ErrBadDimension
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.nodes) == 0 {
		return nil, nil
	}
	if efSearch <= 0 {
		efSearch = DefaultEfSearch
	}

	cur := idx.entry
	curDist := cosineDistance(idx.nodes[cur].vector, vector)
	for lvl := idx.maxLvl; lvl > 0; lvl-- {
		cur, curDist = idx.greedyDescend(cur, curDist, vector, lvl)
	}

	ef := efSearch
	for attempt := 0; attempt < 4; attempt++ {
		cands := idx.searchLayer(vector, cur, ef, 0)
		kept := make([]Result, 0, len(cands))
		for _, c := range cands {
			if filter == nil || filter(c.id) {
				kept = append(kept, Result{FrameID: c.id, Distance: c.dist})
			}
		}
		if attempt == 3 || len(cands) == 0 || len(kept)*2 >= len(cands) || ef >= len(idx.nodes) {
			if len(kept) > topK {
				kept = kept[:topK]
			}
			return kept, nil
		}
		ef *= 2
	}
	return nil, nil
}

// Len reports how many frames carry an embedding.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}
