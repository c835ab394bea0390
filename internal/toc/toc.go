// Package toc implements a capsule's table of contents: the authoritative
// catalog of live segments plus index manifests, and the revision/refcount
// bookkeeping that lets readers snapshot a consistent view without blocking
// the writer.
package toc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"lukechampine.com/blake3"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// TOC is the footer segment's payload. It is encoded as JSON: unlike the
// hot-path frame/segment/WAL formats, which are binary and checksummed, the
// catalog is written once per checkpoint and read once per open — a
// self-describing encoding earns its keep here where it costs nothing on the
// hot path. See
// DESIGN.md for the full justification.
type TOC struct {
	Revision uint64                     `json:"revision"`
	Segments []types.SegmentDescriptor  `json:"segments"`
	Lex      types.LexManifest          `json:"lex"`
	Vec      *types.VecManifest         `json:"vec,omitempty"`
	Time     types.TimeManifest         `json:"time"`
	// PriorFooterOffset keeps the previous TOC segment addressable until the
	// next-but-one checkpoint retires it.
	PriorFooterOffset uint64 `json:"prior_footer_offset,omitempty"`
}

// Encode serialises t to its segment body form.
func (t *TOC) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// Decode parses a TOC segment body.
func Decode(body []byte) (*TOC, error) {
	var t TOC
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("%w: toc decode: %v", types.ErrHeaderCorrupt, err)
	}
	return &t, nil
}

// Checksum256 is the digest stored in the header's toc_checksum field.
func Checksum256(body []byte) [32]byte {
	return blake3.Sum256(body)
}

// VerifyChecksum reports whether body's digest matches want; used by the
// vault's open-time TOC load and by doctor.
func VerifyChecksum(body []byte, want [32]byte) bool {
	got := Checksum256(body)
	return bytes.Equal(got[:], want[:])
}

// SegmentByType returns the first live descriptor of the given type, or
// false if none is present (e.g. no vec index has been built yet).
func (t *TOC) SegmentByType(typ types.SegmentType) (types.SegmentDescriptor, bool) {
	for _, d := range t.Segments {
		if d.Type == typ {
			return d, true
		}
	}
	return types.SegmentDescriptor{}, false
}

// DataSegments returns all live data-segment descriptors in ascending ID
// order.
func (t *TOC) DataSegments() []types.SegmentDescriptor {
	var out []types.SegmentDescriptor
	for _, d := range t.Segments {
		if d.Type == types.SegmentData {
			out = append(out, d)
		}
	}
	return out
}

// RefTable tracks how many outstanding readers hold each TOC revision, so a
// checkpoint or compaction knows when it's safe to reclaim a superseded
// segment's file space. A reader acquires a revision via Acquire and must
// call the returned release func exactly once.
type RefTable struct {
	mu    sync.Mutex
	counts map[uint64]int
	onZero map[uint64]func()
}

// NewRefTable constructs an empty table.
func NewRefTable() *RefTable {
	return &RefTable{counts: map[uint64]int{}, onZero: map[uint64]func(){}}
}

// Acquire increments the refcount for revision and returns a release func.
func (r *RefTable) Acquire(revision uint64) func() {
	r.mu.Lock()
	r.counts[revision]++
	r.mu.Unlock()

	var released int32
	return func() {
		if !atomic.CompareAndSwapInt32(&released, 0, 1) {
			return
		}
		r.mu.Lock()
		r.counts[revision]--
		n := r.counts[revision]
		var fin func()
		if n <= 0 {
			delete(r.counts, revision)
			fin = r.onZero[revision]
			delete(r.onZero, revision)
		}
		r.mu.Unlock()
		if fin != nil {
			fin()
		}
	}
}

// RetireWhenUnreferenced arranges for fin to run once revision's refcount
// drops to zero. If it is already zero (no outstanding readers), fin runs
// immediately.
func (r *RefTable) RetireWhenUnreferenced(revision uint64, fin func()) {
	r.mu.Lock()
	if r.counts[revision] <= 0 {
		r.mu.Unlock()
		fin()
		return
	}
	r.onZero[revision] = fin
	r.mu.Unlock()
}
