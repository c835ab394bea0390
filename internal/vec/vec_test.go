package vec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunilkgrao/aethervault/internal/types"
)

func TestEmbedFrameAndSearchFindsNearest(t *testing.T) {
	idx := New(3, 42)

	require.NoError(t, idx.EmbedFrame(1, []float64{1, 0, 0}))
	require.NoError(t, idx.EmbedFrame(2, []float64{0, 1, 0}))
	require.NoError(t, idx.EmbedFrame(3, []float64{0.95, 0.05, 0}))

	results, err := idx.Search([]float64{1, 0, 0}, 2, DefaultEfSearch, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, types.FrameID(1), results[0].FrameID)
}

func TestEmbedFrameRejectsDimensionMismatch(t *testing.T) {
	idx := New(3, 1)
	require.NoError(t, idx.EmbedFrame(1, []float64{1, 0, 0}))
	err := idx.EmbedFrame(2, []float64{1, 0})
	require.ErrorIs(t, err, types.ErrBadDimension)
}

func TestSearchHonoursFilter(t *testing.T) {
	idx := New(2, 7)
	require.NoError(t, idx.EmbedFrame(1, []float64{1, 0}))
	require.NoError(t, idx.EmbedFrame(2, []float64{0.9, 0.1}))

	results, err := idx.Search([]float64{1, 0}, 5, DefaultEfSearch, func(id types.FrameID) bool {
		return id != 1
	})
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, types.FrameID(1), r.FrameID)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	idx := New(2, 99)
	require.NoError(t, idx.EmbedFrame(1, []float64{1, 2}))
	require.NoError(t, idx.EmbedFrame(2, []float64{3, 4}))

	body, err := idx.Encode()
	require.NoError(t, err)

	decoded, err := Decode(body, 99)
	require.NoError(t, err)
	require.Equal(t, idx.Len(), decoded.Len())

	results, err := decoded.Search([]float64{1, 2}, 1, DefaultEfSearch, nil)
	require.NoError(t, err)
	require.Equal(t, types.FrameID(1), results[0].FrameID)
}
