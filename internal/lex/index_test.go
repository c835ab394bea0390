package lex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunilkgrao/aethervault/internal/types"
)

func frame(id types.FrameID, uri, title, body string, createdAt int64) *types.Frame {
	return &types.Frame{
		ID:        id,
		URI:       uri,
		Title:     title,
		CreatedAt: createdAt,
		Payload:   []byte(body),
		Status:    types.StatusActive,
	}
}

func TestQueryRanksTitleBoostAboveBodyOnly(t *testing.T) {
	idx := NewIndex(DefaultAnalyzer, nil)
	idx.Add(frame(1, "aether://docs/a", "capsule storage engine", "unrelated content here", 100))
	idx.Add(frame(2, "aether://docs/b", "unrelated", "a capsule storage engine lives here", 100))

	results := idx.Query("capsule storage engine", 10, Filters{}, nil)
	require.NotEmpty(t, results)
	require.Equal(t, types.FrameID(1), results[0].FrameID, "title match should outrank body-only match")
}

func TestQueryAppliesURIPrefixFilter(t *testing.T) {
	idx := NewIndex(DefaultAnalyzer, nil)
	idx.Add(frame(1, "aether://notes/one", "note", "agent memory capsule", 100))
	idx.Add(frame(2, "aether://logs/one", "log", "agent memory capsule", 100))

	results := idx.Query("agent memory capsule", 10, Filters{URIPrefix: "aether://notes/"}, nil)
	require.Len(t, results, 1)
	require.Equal(t, types.FrameID(1), results[0].FrameID)
}

func TestRemoveDropsFromActiveSet(t *testing.T) {
	idx := NewIndex(DefaultAnalyzer, nil)
	idx.Add(frame(1, "aether://notes/one", "note", "searchable text", 100))
	require.NotEmpty(t, idx.Query("searchable text", 10, Filters{}, nil))

	idx.Remove(1)
	require.Empty(t, idx.Query("searchable text", 10, Filters{}, nil))
}

func TestFrameByURIAndStats(t *testing.T) {
	idx := NewIndex(DefaultAnalyzer, nil)
	idx.Add(frame(5, "aether://notes/five", "five", "five body text", 100))

	id, ok := idx.FrameByURI("aether://notes/five")
	require.True(t, ok)
	require.Equal(t, types.FrameID(5), id)

	totalDocs, avgLen := idx.Stats()
	require.Equal(t, 1, totalDocs)
	require.Greater(t, avgLen[FieldBody], 0.0)
}

func TestAsOfExcludesNewerFrames(t *testing.T) {
	idx := NewIndex(DefaultAnalyzer, nil)
	idx.Add(frame(1, "aether://notes/one", "old", "shared vocabulary", 100))
	idx.Add(frame(2, "aether://notes/two", "new", "shared vocabulary", 200))

	results := idx.Query("shared vocabulary", 10, Filters{AsOf: 1}, nil)
	require.Len(t, results, 1)
	require.Equal(t, types.FrameID(1), results[0].FrameID)
}
