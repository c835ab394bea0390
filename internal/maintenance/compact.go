package maintenance

import (
	"bytes"
	"sort"

	"github.com/natefinch/atomic"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// CompactPlan is the ordered set of live frames a compaction will repack,
// and how many tombstones/superseded revisions it will drop.
type CompactPlan struct {
	LiveFrames []*types.Frame
	Dropped    int
}

// PlanCompact enumerates live (non-tombstoned) frames in frame_id order,
// the shape compact's rewrite pass repacks into fresh data segments.
func PlanCompact(all []*types.Frame) CompactPlan {
	byURI := map[string]*types.Frame{}
	for _, f := range all {
		if existing, ok := byURI[f.URI]; !ok || f.ID > existing.ID {
			byURI[f.URI] = f
		}
	}
	var live []*types.Frame
	for _, f := range byURI {
		if f.Status == types.StatusActive {
			live = append(live, f)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	return CompactPlan{LiveFrames: live, Dropped: len(all) - len(live)}
}

// WriteAtomic builds the new capsule content at dst via write-to-temp +
// rename, so a crash mid-compaction never leaves a half-written capsule at
// the original path.
func WriteAtomic(dst string, content []byte) error {
	return atomic.WriteFile(dst, bytes.NewReader(content))
}
