package timeindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunilkgrao/aethervault/internal/types"
)

func TestInsertIsImmutableAndAdditive(t *testing.T) {
	idx := New()
	next := idx.Insert(100, types.Location{FrameID: 1, SegmentID: 1, Offset: 0})

	require.Equal(t, 0, idx.Len(), "original index must be unaffected")
	require.Equal(t, 1, next.Len())

	next2 := next.Insert(100, types.Location{FrameID: 2, SegmentID: 1, Offset: 40})
	require.Equal(t, 1, next2.Len(), "same createdAt bucket, not a new bucket")

	locs := next2.Timeline(100, 100)
	require.Len(t, locs, 2)
}

func TestTimelineRespectsRange(t *testing.T) {
	idx := New()
	idx = idx.Insert(100, types.Location{FrameID: 1})
	idx = idx.Insert(200, types.Location{FrameID: 2})
	idx = idx.Insert(300, types.Location{FrameID: 3})

	locs := idx.Timeline(150, 250)
	require.Len(t, locs, 1)
	require.Equal(t, types.FrameID(2), locs[0].FrameID)
}

func TestRemoveDropsOnlyMatchingFrame(t *testing.T) {
	idx := New()
	idx = idx.Insert(100, types.Location{FrameID: 1})
	idx = idx.Insert(100, types.Location{FrameID: 2})

	next := idx.Remove(100, types.FrameID(1))
	locs := next.Timeline(100, 100)
	require.Len(t, locs, 1)
	require.Equal(t, types.FrameID(2), locs[0].FrameID)

	empty := next.Remove(100, types.FrameID(2))
	require.Equal(t, 0, empty.Len())
}

func TestAsOfReturnsHighestFrameIDAtOrBeforeTime(t *testing.T) {
	idx := New()
	idx = idx.Insert(100, types.Location{FrameID: 1})
	idx = idx.Insert(200, types.Location{FrameID: 5})
	idx = idx.Insert(300, types.Location{FrameID: 9})

	require.Equal(t, types.FrameID(5), idx.AsOf(250))
	require.Equal(t, types.FrameID(0), idx.AsOf(50))
	require.Equal(t, types.FrameID(9), idx.AsOf(1000))
}
