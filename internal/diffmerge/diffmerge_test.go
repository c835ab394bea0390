package diffmerge

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunilkgrao/aethervault/internal/types"
)

type fakeSnapshot struct {
	frames []*types.Frame
	config map[string]string
}

func (s *fakeSnapshot) AllFrames() []*types.Frame {
	out := append([]*types.Frame(nil), s.frames...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeSnapshot) MaxFrameID() types.FrameID {
	var max types.FrameID
	for _, f := range s.frames {
		if f.ID > max {
			max = f.ID
		}
	}
	return max
}

func (s *fakeSnapshot) ConfigPairs() map[string]string { return s.config }

func active(id types.FrameID, uri string, createdAt int64, checksum byte) *types.Frame {
	return &types.Frame{ID: id, URI: uri, CreatedAt: createdAt, Status: types.StatusActive, Checksum: [32]byte{checksum}}
}

func TestComputeOnDisjointCapsulesIsSymmetric(t *testing.T) {
	a := &fakeSnapshot{frames: []*types.Frame{active(1, "aether://a/1", 100, 1)}}
	b := &fakeSnapshot{frames: []*types.Frame{active(1, "aether://b/1", 100, 2)}}

	d := Compute(a, b)
	require.Len(t, d.OnlyInA, 1)
	require.Len(t, d.OnlyInB, 1)
	require.Empty(t, d.Modified)

	dSwapped := Compute(b, a)
	require.Len(t, dSwapped.OnlyInA, 1)
	require.Len(t, dSwapped.OnlyInB, 1)
}

func TestComputeDetectsModifiedFrames(t *testing.T) {
	a := &fakeSnapshot{frames: []*types.Frame{active(1, "aether://shared/1", 100, 1)}}
	b := &fakeSnapshot{frames: []*types.Frame{active(1, "aether://shared/1", 200, 9)}}

	d := Compute(a, b)
	require.Empty(t, d.OnlyInA)
	require.Empty(t, d.OnlyInB)
	require.Len(t, d.Modified, 1)
	require.Equal(t, "aether://shared/1", d.Modified[0].URI)
}

func TestComputeDiffsConfigStructurally(t *testing.T) {
	a := &fakeSnapshot{config: map[string]string{"index": `{"k_rrf":60}`}}
	b := &fakeSnapshot{config: map[string]string{"index": `{"k_rrf":80}`, "new_key": "1"}}

	d := Compute(a, b)
	require.Len(t, d.Config, 2)
}

func TestMergeOnDisjointInputsUnionsWithoutConflicts(t *testing.T) {
	a := &fakeSnapshot{frames: []*types.Frame{active(1, "aether://a/1", 100, 1)}}
	b := &fakeSnapshot{frames: []*types.Frame{active(1, "aether://b/1", 100, 2)}}

	result := Merge(a, b, false)
	require.Len(t, result.Frames, 2)
	require.Empty(t, result.Conflicts)

	var uris []string
	for _, f := range result.Frames {
		uris = append(uris, f.URI)
	}
	require.ElementsMatch(t, []string{"aether://a/1", "aether://b/1"}, uris)
}

func TestMergeKeepsAOnConflictUnlessForced(t *testing.T) {
	a := &fakeSnapshot{frames: []*types.Frame{active(1, "aether://shared/x", 100, 1)}}
	b := &fakeSnapshot{frames: []*types.Frame{active(1, "aether://shared/x", 200, 9)}}

	result := Merge(a, b, false)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, a.frames[0], result.Conflicts[0].Kept)

	var activeCount int
	for _, f := range result.Frames {
		if f.URI == "aether://shared/x" && f.Status == types.StatusActive {
			activeCount++
			require.Equal(t, a.frames[0].Checksum, f.Checksum)
		}
	}
	require.Equal(t, 1, activeCount)
}

func TestMergeForceElectsB(t *testing.T) {
	a := &fakeSnapshot{frames: []*types.Frame{active(1, "aether://shared/x", 100, 1)}}
	b := &fakeSnapshot{frames: []*types.Frame{active(1, "aether://shared/x", 200, 9)}}

	result := Merge(a, b, true)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, b.frames[0], result.Conflicts[0].Kept)
}
