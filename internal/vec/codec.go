package vec

import (
	"encoding/json"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// wireNode is the JSON-serialisable form of a graph node.
type wireNode struct {
	FrameID   uint64     `json:"frame_id"`
	Vector    []float64  `json:"vector"`
	Level     int        `json:"level"`
	Neighbors [][]uint64 `json:"neighbors"`
}

type wireIndex struct {
	Dim    int        `json:"dim"`
	M      int        `json:"m"`
	EfCons int        `json:"ef_construction"`
	Entry  uint64     `json:"entry"`
	MaxLvl int        `json:"max_level"`
	Nodes  []wireNode `json:"nodes"`
}

// Encode serialises the graph to its segment body form: the whole node set,
// neighbour lists and raw vector matrix, as a single JSON document. Rebuilt
// wholesale at checkpoint/compact rather than diffed, so a self-describing
// encoding costs nothing on the hot path.
func (idx *Index) Encode() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	w := wireIndex{Dim: idx.dim, M: idx.m, EfCons: idx.efConstruction, Entry: uint64(idx.entry), MaxLvl: idx.maxLvl}
	for _, n := range idx.nodes {
		wn := wireNode{FrameID: uint64(n.frameID), Vector: n.vector, Level: n.level}
		wn.Neighbors = make([][]uint64, len(n.neighbors))
		for lvl, nbs := range n.neighbors {
			ids := make([]uint64, len(nbs))
			for i, id := range nbs {
				ids[i] = uint64(id)
			}
			wn.Neighbors[lvl] = ids
		}
		w.Nodes = append(w.Nodes, wn)
	}
	return json.Marshal(w)
}

// Decode rebuilds a graph previously produced by Encode. seed reseeds the
// level-assignment PRNG for any subsequent inserts; it does not affect the
// already-decoded graph structure.
func Decode(body []byte, seed uint64) (*Index, error) {
	var w wireIndex
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}
	idx := New(w.Dim, seed)
	idx.m = w.M
	idx.efConstruction = w.EfCons
	idx.entry = types.FrameID(w.Entry)
	idx.maxLvl = w.MaxLvl
	for _, wn := range w.Nodes {
		n := &node{frameID: types.FrameID(wn.FrameID), vector: wn.Vector, level: wn.Level}
		n.neighbors = make([][]types.FrameID, len(wn.Neighbors))
		for lvl, ids := range wn.Neighbors {
			nbs := make([]types.FrameID, len(ids))
			for i, id := range ids {
				nbs[i] = types.FrameID(id)
			}
			n.neighbors[lvl] = nbs
		}
		idx.nodes[n.frameID] = n
	}
	return idx, nil
}
