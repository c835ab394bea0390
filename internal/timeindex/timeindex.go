// Package timeindex implements a sorted created_at -> locations map as an
// immutable, atomically-swappable structure so readers never need a lock.
package timeindex

import (
	"github.com/benbjohnson/immutable"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// Index is a point-in-time snapshot of the time index. It is immutable:
// mutating operations return a new Index sharing unchanged subtrees with the
// old one, matching the copy-on-write discipline the WAL's state type uses.
type Index struct {
	byTime *immutable.SortedMap[int64, []types.Location]
}

// New returns an empty index.
func New() *Index {
	return &Index{byTime: &immutable.SortedMap[int64, []types.Location]{}}
}

// Insert records a new location for a frame committed at createdAt,
// returning the updated index. Locations sharing a createdAt keep insertion
// order; AsOf does not depend on that order.
func (idx *Index) Insert(createdAt int64, loc types.Location) *Index {
	existing, _ := idx.byTime.Get(createdAt)
	next := append(append([]types.Location(nil), existing...), loc)
	return &Index{byTime: idx.byTime.Set(createdAt, next)}
}

// Remove drops a location previously inserted at createdAt (used when a
// compaction or tombstone reclaim makes an old location stale).
func (idx *Index) Remove(createdAt int64, frameID types.FrameID) *Index {
	existing, ok := idx.byTime.Get(createdAt)
	if !ok {
		return idx
	}
	kept := existing[:0:0]
	for _, l := range existing {
		if l.FrameID != frameID {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return &Index{byTime: idx.byTime.Delete(createdAt)}
	}
	return &Index{byTime: idx.byTime.Set(createdAt, kept)}
}

// Timeline returns every location with createdAt in [from, to], ascending.
func (idx *Index) Timeline(from, to int64) []types.Location {
	var out []types.Location
	it := idx.byTime.Iterator()
	it.Seek(from)
	for !it.Done() {
		t, locs, ok := it.Next()
		if !ok || t > to {
			break
		}
		out = append(out, locs...)
	}
	return out
}

// AsOf returns the highest frame_id among frames created at or before t,
// used to restrict other lanes for time-travel queries.
func (idx *Index) AsOf(t int64) types.FrameID {
	var max types.FrameID
	it := idx.byTime.Iterator()
	for !it.Done() {
		createdAt, locs, ok := it.Next()
		if !ok || createdAt > t {
			break
		}
		for _, l := range locs {
			if l.FrameID > max {
				max = l.FrameID
			}
		}
	}
	return max
}

// Len reports how many (createdAt, location) buckets exist, for status().
func (idx *Index) Len() int {
	return idx.byTime.Len()
}
