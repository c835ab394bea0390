// Package diffmerge compares two capsules as append-only histories keyed by
// uri and frame_id, and computes a three-way merge that preserves both
// sides' history while resolving URI conflicts deterministically.
package diffmerge

import (
	"strings"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// Snapshot is the read-only view of a capsule's live frame set diff/merge
// operate over. Tombstoned frames are included so merge can see which URIs
// were retired on either side.
type Snapshot interface {
	AllFrames() []*types.Frame // every frame, active and tombstoned, in frame_id order
	MaxFrameID() types.FrameID
	ConfigPairs() map[string]string // flattened aethervault://config/* key -> value_json
}

// ConfigDelta is one differing or one-sided config key.
type ConfigDelta struct {
	Key  string
	A, B string // empty string means absent on that side
}

// Diff is the set-theoretic difference between two capsules.
type Diff struct {
	OnlyInA  []*types.Frame
	OnlyInB  []*types.Frame
	Modified []ModifiedPair
	Config   []ConfigDelta
}

// ModifiedPair is a uri present as an active frame on both sides with
// differing payload checksums.
type ModifiedPair struct {
	URI  string
	A, B *types.Frame
}

func activeByURI(snap Snapshot) map[string]*types.Frame {
	out := map[string]*types.Frame{}
	for _, f := range snap.AllFrames() {
		if f.Status == types.StatusActive {
			out[f.URI] = f
		}
	}
	return out
}

// Compute returns the differences between a and b.
func Compute(a, b Snapshot) Diff {
	aFrames, bFrames := activeByURI(a), activeByURI(b)
	var d Diff

	for uri, af := range aFrames {
		bf, ok := bFrames[uri]
		if !ok {
			d.OnlyInA = append(d.OnlyInA, af)
			continue
		}
		if af.Checksum != bf.Checksum {
			d.Modified = append(d.Modified, ModifiedPair{URI: uri, A: af, B: bf})
		}
	}
	for uri, bf := range bFrames {
		if _, ok := aFrames[uri]; !ok {
			d.OnlyInB = append(d.OnlyInB, bf)
		}
	}

	aCfg, bCfg := a.ConfigPairs(), b.ConfigPairs()
	seen := map[string]bool{}
	for k, av := range aCfg {
		seen[k] = true
		bv := bCfg[k]
		if av != bv {
			d.Config = append(d.Config, ConfigDelta{Key: k, A: av, B: bv})
		}
	}
	for k, bv := range bCfg {
		if seen[k] {
			continue
		}
		d.Config = append(d.Config, ConfigDelta{Key: k, A: "", B: bv})
	}
	return d
}

// isConfigURI reports whether uri names a capsule config key rather than a
// content/log/feedback frame.
func isConfigURI(uri string) bool {
	return strings.HasPrefix(uri, "aethervault://config/")
}

// Conflict records a URI present as a differing active frame on both sides,
// resolved in favour of A (or B, if force is set).
type Conflict struct {
	URI        string
	Kept       *types.Frame
	Superseded *types.Frame
}

// MergeResult is the frame set to materialise into the output capsule.
type MergeResult struct {
	Frames    []*types.Frame
	Conflicts []Conflict
}

// Merge computes C's frame set from A and B.
//
//   - Every frame in A is included, preserving its frame_id.
//   - Every frame in B whose uri doesn't appear in A is appended with a
//     fresh frame_id allocated after the max of A's IDs.
//   - A uri active and differing on both sides is a conflict: A's frame
//     stays active; B's frame is appended as a superseded revision tagged
//     conflict=true, resolved_by=<A's uri> — unless force elects B instead.
//   - A tombstone in A retires the uri in C unless B has a later active
//     frame for the same uri (by created_at), in which case B's frame is
//     appended. Tombstones in B are not consulted.
func Merge(a, b Snapshot, force bool) MergeResult {
	aAll := a.AllFrames()
	bAll := b.AllFrames()

	aByURI := map[string]*types.Frame{}
	aActive := map[string]*types.Frame{}
	for _, f := range aAll {
		if existing, ok := aByURI[f.URI]; !ok || f.CreatedAt >= existing.CreatedAt {
			aByURI[f.URI] = f
		}
		if f.Status == types.StatusActive {
			aActive[f.URI] = f
		}
	}
	bActive := map[string]*types.Frame{}
	for _, f := range bAll {
		if f.Status == types.StatusActive {
			bActive[f.URI] = f
		}
	}

	var result MergeResult
	result.Frames = append(result.Frames, aAll...)

	nextID := a.MaxFrameID() + 1
	for _, bf := range bAll {
		if _, inA := aByURI[bf.URI]; inA {
			continue
		}
		cp := *bf
		cp.ID = nextID
		nextID++
		result.Frames = append(result.Frames, &cp)
	}

	for uri, af := range aActive {
		bf, ok := bActive[uri]
		if !ok || isConfigURI(uri) {
			continue
		}
		if af.Checksum == bf.Checksum {
			continue
		}
		if force {
			for i, f := range result.Frames {
				if f.URI == uri && f.ID == af.ID {
					cp := *bf
					cp.ID = af.ID
					result.Frames[i] = &cp
				}
			}
			result.Conflicts = append(result.Conflicts, Conflict{URI: uri, Kept: bf, Superseded: af})
			continue
		}
		cp := *bf
		cp.ID = nextID
		nextID++
		if cp.Tags == nil {
			cp.Tags = map[string]string{}
		}
		cp.Tags["conflict"] = "true"
		cp.Tags["resolved_by"] = af.URI
		cp.Status = types.StatusTombstoned
		result.Frames = append(result.Frames, &cp)
		result.Conflicts = append(result.Conflicts, Conflict{URI: uri, Kept: af, Superseded: bf})
	}

	// A tombstone in A retires the uri in C unless B has a later active frame
	// for the same uri, in which case that frame is appended. B's tombstones
	// are not examined.
	for uri, af := range aByURI {
		if af.Status != types.StatusTombstoned {
			continue
		}
		bf, ok := bActive[uri]
		if !ok || bf.CreatedAt <= af.CreatedAt {
			continue
		}
		cp := *bf
		cp.ID = nextID
		nextID++
		result.Frames = append(result.Frames, &cp)
	}
	return result
}
