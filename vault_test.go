package aethervault

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunilkgrao/aethervault/internal/maintenance"
	"github.com/sunilkgrao/aethervault/internal/types"
)

func initVault(t *testing.T, name string) *Vault {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	v, err := Init(path, Options{Capacity: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestPutCommitGetRoundTrip(t *testing.T) {
	v := initVault(t, "a.aether")

	id, err := v.Put("aether://notes/hello", []byte("hello world"), PutOptions{Title: "hello"})
	require.NoError(t, err)
	require.NoError(t, v.Commit())

	f, err := v.GetByURI("aether://notes/hello", 0)
	require.NoError(t, err)
	require.Equal(t, id, f.ID)
	require.Equal(t, []byte("hello world"), f.Payload)
}

func TestCommitWithNothingStagedIsIdempotent(t *testing.T) {
	v := initVault(t, "a.aether")
	require.NoError(t, v.Commit())
	require.NoError(t, v.Commit())
}

func TestWalSequenceIsMonotonicAcrossCommits(t *testing.T) {
	v := initVault(t, "a.aether")

	_, err := v.Put("aether://notes/one", []byte("one"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())
	seq1 := v.Status().WalSequence

	_, err = v.Put("aether://notes/two", []byte("two"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())
	seq2 := v.Status().WalSequence

	require.Greater(t, seq2, seq1)
}

func TestDeleteTombstonesActiveFrame(t *testing.T) {
	v := initVault(t, "a.aether")

	_, err := v.Put("aether://notes/gone", []byte("bye"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())

	require.NoError(t, v.Delete("aether://notes/gone"))
	require.NoError(t, v.Commit())

	_, err = v.GetByURI("aether://notes/gone", 0)
	require.ErrorIs(t, err, types.ErrNotFound)

	status := v.Status()
	require.Equal(t, 1, status.TombstoneCount)
}

func TestDeleteSurvivesCheckpointAndRepeatedReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delete-reopen.aether")
	v, err := Init(path, Options{Capacity: 1 << 20})
	require.NoError(t, err)

	_, err = v.Put("aether://notes/gone", []byte("bye"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())
	require.NoError(t, v.Delete("aether://notes/gone"))
	require.NoError(t, v.Commit())
	require.NoError(t, v.Close())

	// First reopen replays the WAL (no checkpoint happened before Close),
	// which runs the delete entry through Checkpoint and must materialise
	// the tombstone onto disk, not just into memory.
	reopened, err := Open(path, ModeWrite, Options{})
	require.NoError(t, err)
	_, err = reopened.GetByURI("aether://notes/gone", 0)
	require.ErrorIs(t, err, types.ErrNotFound)
	require.NoError(t, reopened.Close())

	// Second reopen: checkpointPos now equals sequence, so there is no WAL
	// replay and loadFramesFromTOC() must see the tombstone straight from
	// the on-disk segment, not a resurrected Active frame.
	reopenedAgain, err := Open(path, ModeWrite, Options{})
	require.NoError(t, err)
	defer reopenedAgain.Close()
	_, err = reopenedAgain.GetByURI("aether://notes/gone", 0)
	require.ErrorIs(t, err, types.ErrNotFound)

	status := reopenedAgain.Status()
	require.Equal(t, 1, status.TombstoneCount)
}

func TestCheckpointIsIdempotentOnEmptyPending(t *testing.T) {
	v := initVault(t, "a.aether")
	through, err := v.Checkpoint(nil, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(5), through)
}

func TestSearchFindsPutFrameByLexicalMatch(t *testing.T) {
	v := initVault(t, "a.aether")

	_, err := v.Put("aether://notes/storage", []byte("a single-file memory capsule"), PutOptions{Title: "capsule storage"})
	require.NoError(t, err)
	require.NoError(t, v.Commit())

	results, err := v.Search(context.Background(), "capsule storage", SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "aether://notes/storage", results[0].URI)
}

func TestSearchIsMonotonicUnderRepeatedIdenticalQueries(t *testing.T) {
	v := initVault(t, "a.aether")
	_, err := v.Put("aether://notes/storage", []byte("a single-file memory capsule"), PutOptions{Title: "capsule storage"})
	require.NoError(t, err)
	require.NoError(t, v.Commit())

	first, err := v.Search(context.Background(), "capsule storage", SearchOptions{TopK: 5})
	require.NoError(t, err)
	second, err := v.Search(context.Background(), "capsule storage", SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCompactDryRunReportsPlanWithoutMutating(t *testing.T) {
	v := initVault(t, "a.aether")
	_, err := v.Put("aether://notes/one", []byte("one"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())
	require.NoError(t, v.Delete("aether://notes/one"))
	require.NoError(t, v.Commit())

	result, err := v.Compact(true)
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Empty(t, result.LiveFrames)
	require.Equal(t, 1, result.Dropped)

	status := v.Status()
	require.Equal(t, 1, status.TombstoneCount)
}

func TestCompactAppliesAndReopensCapsule(t *testing.T) {
	v := initVault(t, "a.aether")
	_, err := v.Put("aether://notes/keep", []byte("keep me"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())

	result, err := v.Compact(false)
	require.NoError(t, err)
	require.True(t, result.Applied)

	f, err := v.GetByURI("aether://notes/keep", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("keep me"), f.Payload)
}

func TestMergeOnDisjointCapsulesUnionsFrames(t *testing.T) {
	a := initVault(t, "a.aether")
	_, err := a.Put("aether://notes/a", []byte("from a"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, a.Commit())

	b := initVault(t, "b.aether")
	_, err = b.Put("aether://notes/b", []byte("from b"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	outPath := filepath.Join(t.TempDir(), "merged.aether")
	result, err := a.Merge(b, outPath, false)
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)

	merged, err := Open(outPath, ModeRead, Options{})
	require.NoError(t, err)
	defer merged.Close()

	_, err = merged.GetByURI("aether://notes/a", 0)
	require.NoError(t, err)
	_, err = merged.GetByURI("aether://notes/b", 0)
	require.NoError(t, err)
}

func TestDoctorReportsCleanCapsuleAsHealthy(t *testing.T) {
	v := initVault(t, "a.aether")
	_, err := v.Put("aether://notes/one", []byte("one"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())

	report, err := v.Doctor(maintenance.DoctorOptions{Deep: true})
	require.NoError(t, err)
	require.True(t, report.TocChecksumOK)
	require.Empty(t, report.PayloadIssues)
}

func TestReopenAfterCloseRecoversCommittedFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.aether")
	v, err := Init(path, Options{Capacity: 1 << 20})
	require.NoError(t, err)
	_, err = v.Put("aether://notes/durable", []byte("survives restart"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())
	require.NoError(t, v.Close())

	reopened, err := Open(path, ModeWrite, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	f, err := reopened.GetByURI("aether://notes/durable", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("survives restart"), f.Payload)
}

func TestFeedbackAffectsNormalizedFeedbackScore(t *testing.T) {
	v := initVault(t, "a.aether")
	_, err := v.Put("aether://notes/one", []byte("one"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())

	_, err = v.Feedback("aether://notes/one", 0.5, "useful")
	require.NoError(t, err)

	f, err := v.GetByURI("aether://notes/one", 0)
	require.NoError(t, err)
	require.InDelta(t, 0.5, v.NormalizedFeedback(f.ID), 1e-9)
}

func TestConfigSetGetRoundTrip(t *testing.T) {
	v := initVault(t, "a.aether")
	require.NoError(t, v.ConfigSet("index", `{"k_rrf":60}`))

	value, err := v.ConfigGet("index")
	require.NoError(t, err)
	require.JSONEq(t, `{"k_rrf":60}`, value)
}

func TestConfigSetIndexUpdatesLivePipelineConfig(t *testing.T) {
	v := initVault(t, "a.aether")
	require.Equal(t, float64(60), v.PipelineConfig().KRRF)

	require.NoError(t, v.ConfigSet("index", `{"k_rrf":12,"bonus_uri":0.9}`))

	cfg := v.PipelineConfig()
	require.Equal(t, float64(12), cfg.KRRF)
	require.Equal(t, 0.9, cfg.BonusURI)
}

func TestConfigSetIndexChangesSearchFusionScore(t *testing.T) {
	v := initVault(t, "a.aether")
	_, err := v.Put("aether://notes/storage", []byte("a single-file memory capsule"), PutOptions{Title: "capsule storage"})
	require.NoError(t, err)
	require.NoError(t, v.Commit())

	before, err := v.Search(context.Background(), "capsule storage", SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, before)

	require.NoError(t, v.ConfigSet("index", `{"k_rrf":1}`))

	after, err := v.Search(context.Background(), "capsule storage", SearchOptions{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, after)
	require.NotEqual(t, before[0].Score, after[0].Score)
}
