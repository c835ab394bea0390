package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunilkgrao/aethervault/internal/hooks"
	"github.com/sunilkgrao/aethervault/internal/lex"
	"github.com/sunilkgrao/aethervault/internal/types"
	"github.com/sunilkgrao/aethervault/internal/vec"
)

type fakeFrames struct {
	byID map[types.FrameID]*types.Frame
}

func (f *fakeFrames) FrameByID(id types.FrameID) (*types.Frame, bool) {
	fr, ok := f.byID[id]
	return fr, ok
}

type zeroFeedback struct{}

func (zeroFeedback) NormalizedFeedback(types.FrameID) float64 { return 0 }

func buildFixture() (*lex.Index, *vec.Index, *fakeFrames) {
	lexIdx := lex.NewIndex(lex.DefaultAnalyzer, nil)
	vecIdx := vec.New(2, 7)
	frames := &fakeFrames{byID: map[types.FrameID]*types.Frame{}}

	f1 := &types.Frame{ID: 1, URI: "aether://notes/one", Title: "capsule storage", Payload: []byte("capsule storage engine details"), CreatedAt: 100, Status: types.StatusActive}
	f2 := &types.Frame{ID: 2, URI: "aether://notes/two", Title: "unrelated", Payload: []byte("totally unrelated text"), CreatedAt: 100, Status: types.StatusActive}

	lexIdx.Add(f1)
	lexIdx.Add(f2)
	frames.byID[1] = f1
	frames.byID[2] = f2
	_ = vecIdx.EmbedFrame(1, []float64{1, 0})
	_ = vecIdx.EmbedFrame(2, []float64{0, 1})

	return lexIdx, vecIdx, frames
}

func embedHook(vector []float64) hooks.Func {
	return func(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(hooks.EmbedResponse{Vector: vector})
	}
}

func TestSearchFusesLexAndVecLanes(t *testing.T) {
	lexIdx, vecIdx, frames := buildFixture()
	p := &Pipeline{
		Lex:      lexIdx,
		Vec:      vecIdx,
		Frames:   frames,
		Feedback: zeroFeedback{},
		Embed:    embedHook([]float64{1, 0}),
		Config:   DefaultConfig(),
	}

	results, err := Search(context.Background(), p, "capsule storage engine", Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, types.FrameID(1), results[0].FrameID)
	require.Contains(t, results[0].Provenance, "lex")
	require.Contains(t, results[0].Provenance, "vec")
}

func TestSearchDegradesGracefullyWithoutVecLane(t *testing.T) {
	lexIdx, _, frames := buildFixture()
	p := &Pipeline{
		Lex:      lexIdx,
		Vec:      nil,
		Frames:   frames,
		Feedback: zeroFeedback{},
		Config:   DefaultConfig(),
	}

	results, err := Search(context.Background(), p, "capsule storage engine", Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.NotContains(t, r.Provenance, "vec")
	}
}

func TestSearchFallsBackWhenEmbedHookFails(t *testing.T) {
	lexIdx, vecIdx, frames := buildFixture()
	failing := func(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
		return nil, types.ErrHookInvalid
	}
	p := &Pipeline{
		Lex:      lexIdx,
		Vec:      vecIdx,
		Frames:   frames,
		Feedback: zeroFeedback{},
		Embed:    failing,
		Config:   DefaultConfig(),
	}

	results, err := Search(context.Background(), p, "capsule storage engine", Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.NotContains(t, r.Provenance, "vec")
	}
}

func TestSearchRerankFallsBackToFusedOrderOnHookFailure(t *testing.T) {
	lexIdx, vecIdx, frames := buildFixture()
	failing := func(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
		return nil, types.ErrHookInvalid
	}
	p := &Pipeline{
		Lex:      lexIdx,
		Vec:      vecIdx,
		Frames:   frames,
		Feedback: zeroFeedback{},
		Embed:    embedHook([]float64{1, 0}),
		Rerank:   failing,
		Config:   DefaultConfig(),
	}

	results, err := Search(context.Background(), p, "capsule storage engine", Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, types.FrameID(1), results[0].FrameID)
}

func TestSearchVecLaneHonoursURIPrefixAndTagFilters(t *testing.T) {
	lexIdx, vecIdx, frames := buildFixture()
	frames.byID[2].Tags = map[string]string{"track": "agent-log"}

	p := &Pipeline{
		Lex:      lexIdx,
		Vec:      vecIdx,
		Frames:   frames,
		Feedback: zeroFeedback{},
		// The embed hook matches frame 2's vector exactly, so an unfiltered
		// vec-only search would return frame 2 as the sole hit.
		Embed:  embedHook([]float64{0, 1}),
		Config: DefaultConfig(),
	}

	opts := Options{
		TopK:    5,
		Lanes:   []string{"vec"},
		Filters: lex.Filters{URIPrefix: "aether://notes/one"},
	}
	results, err := Search(context.Background(), p, "irrelevant", opts)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, types.FrameID(2), r.FrameID)
	}

	opts.Filters = lex.Filters{Tags: map[string]string{"track": "notes"}}
	results, err = Search(context.Background(), p, "irrelevant", opts)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, types.FrameID(2), r.FrameID)
	}
}

func TestSearchHonoursExplicitLaneSelection(t *testing.T) {
	lexIdx, vecIdx, frames := buildFixture()
	p := &Pipeline{
		Lex:      lexIdx,
		Vec:      vecIdx,
		Frames:   frames,
		Feedback: zeroFeedback{},
		Embed:    embedHook([]float64{1, 0}),
		Config:   DefaultConfig(),
	}

	results, err := Search(context.Background(), p, "capsule storage engine", Options{TopK: 5, Lanes: []string{"lex"}})
	require.NoError(t, err)
	for _, r := range results {
		require.NotContains(t, r.Provenance, "vec")
	}
}
