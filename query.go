package aethervault

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sunilkgrao/aethervault/internal/hooks"
	"github.com/sunilkgrao/aethervault/internal/lex"
	"github.com/sunilkgrao/aethervault/internal/pipeline"
	"github.com/sunilkgrao/aethervault/internal/types"
	"github.com/sunilkgrao/aethervault/internal/vec"
)

// GetByURI returns the frame currently (or, if asOf is non-zero, as of that
// frame_id) active at uri.
func (v *Vault) GetByURI(uri string, asOf types.FrameID) (*types.Frame, error) {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()

	if asOf == 0 {
		id, ok := v.lexIdx.FrameByURI(uri)
		if !ok {
			return nil, types.ErrNotFound
		}
		return v.frames[id], nil
	}

	var best *types.Frame
	for _, f := range v.frames {
		if f.URI != uri || f.ID > asOf {
			continue
		}
		if best == nil || f.ID > best.ID {
			best = f
		}
	}
	if best == nil || best.Status != types.StatusActive {
		return nil, types.ErrNotFound
	}
	return best, nil
}

// GetByID returns the frame with the given frame_id regardless of status.
func (v *Vault) GetByID(id types.FrameID) (*types.Frame, error) {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()
	f, ok := v.frames[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return f, nil
}

// FrameByID implements pipeline.FrameLookup.
func (v *Vault) FrameByID(id types.FrameID) (*types.Frame, bool) {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()
	f, ok := v.frames[id]
	return f, ok
}

// NormalizedFeedback implements pipeline.FeedbackLookup: the mean of every
// feedback score recorded against frameID, clamped to [-1, 1].
func (v *Vault) NormalizedFeedback(frameID types.FrameID) float64 {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()

	target := strconv.FormatUint(uint64(frameID), 10)
	var sum float64
	var n int
	for _, f := range v.frames {
		if f.Status != types.StatusActive || f.Kind != types.KindFeedback {
			continue
		}
		if f.Tags["target_frame"] != target {
			continue
		}
		score, err := strconv.ParseFloat(f.Tags["score"], 64)
		if err != nil {
			continue
		}
		sum += score
		n++
	}
	if n == 0 {
		return 0
	}
	avg := sum / float64(n)
	if avg > 1 {
		avg = 1
	}
	if avg < -1 {
		avg = -1
	}
	return avg
}

// SearchOptions configures Search.
type SearchOptions struct {
	TopK    int
	Filters lex.Filters
	AsOf    types.FrameID
	Lanes   []string
}

// PipelineConfig returns the pipeline parameters currently resolved from
// aethervault://config/index, for callers (such as query-trace logging) that
// need to record what a search actually ran with.
func (v *Vault) PipelineConfig() pipeline.Config {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()
	return v.pipelineCfg
}

// Search runs the hybrid retrieval pipeline and returns ranked results.
func (v *Vault) Search(ctx context.Context, query string, opts SearchOptions) ([]pipeline.Result, error) {
	v.tocMu.RLock()
	p := &pipeline.Pipeline{
		Lex: v.lexIdx, Vec: v.vecIdx, Frames: v, Feedback: v,
		Expand: v.expandHook, Rerank: v.rerankHook, Embed: v.embedHook,
		Config: v.pipelineCfg,
	}
	v.tocMu.RUnlock()

	timer := v.metrics.newSearchTimer()
	defer timer.ObserveDuration()

	return pipeline.Search(ctx, p, query, pipeline.Options{
		TopK: opts.TopK, Filters: opts.Filters, AsOf: opts.AsOf, Lanes: opts.Lanes, Now: nowUnix(),
	})
}

// Bundle is the packed context returned by Context: a plan explaining the
// retrieval strategy, the results themselves, and a citation list truncated
// to fit MaxBytes.
type Bundle struct {
	Plan      string
	Results   []pipeline.Result
	Citations []string
	Bytes     int
}

// ContextOptions configures Context.
type ContextOptions struct {
	TopK     int
	Filters  lex.Filters
	MaxBytes int
}

// Context runs Search and greedily packs results (by descending score) into
// a byte budget, the shape an agent's prompt-assembly step consumes
// directly.
func (v *Vault) Context(ctx context.Context, query string, opts ContextOptions) (Bundle, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 20
	}
	results, err := v.Search(ctx, query, SearchOptions{TopK: topK, Filters: opts.Filters})
	if err != nil {
		return Bundle{}, err
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 8192
	}

	b := Bundle{Plan: fmt.Sprintf("hybrid search for %q, top_k=%d", query, topK)}
	used := len(b.Plan)
	var kept []pipeline.Result
	for _, r := range results {
		cost := len(r.Snippet) + len(r.URI) + 16
		if used+cost > maxBytes && len(kept) > 0 {
			break
		}
		kept = append(kept, r)
		b.Citations = append(b.Citations, r.URI)
		used += cost
	}
	b.Results = kept
	b.Bytes = used
	return b, nil
}

// EmbedFrames precomputes vectors for frames matching filter by invoking the
// embed hook in batches of batchSize, returning how many frames were
// embedded. The index's dimension is fixed by the first vector returned.
func (v *Vault) EmbedFrames(ctx context.Context, filter lex.Filters, batchSize int) (int, error) {
	if v.embedHook == nil {
		return 0, fmt.Errorf("aethervault: no embed hook configured")
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	v.mu.Lock()
	var targets []*types.Frame
	for _, f := range v.frames {
		if f.Status != types.StatusActive {
			continue
		}
		if filter.URIPrefix != "" && !strings.HasPrefix(f.URI, filter.URIPrefix) {
			continue
		}
		targets = append(targets, f)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	v.mu.Unlock()

	var embedded int
	for i := 0; i < len(targets); i += batchSize {
		end := i + batchSize
		if end > len(targets) {
			end = len(targets)
		}
		for _, f := range targets[i:end] {
			resp, err := hooks.Embed(ctx, v.embedHook, v.pipelineCfg.EmbedDeadline, string(f.Payload))
			if err != nil {
				continue
			}
			if err := v.embedFrameLocked(f.ID, resp.Vector); err != nil {
				continue
			}
			embedded++
		}
	}
	return embedded, nil
}

func (v *Vault) embedFrameLocked(id types.FrameID, vector []float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.vecIdx == nil {
		v.vecIdx = vec.New(len(vector), uint64(id))
		v.vecDim = len(vector)
	}
	if err := v.vecIdx.EmbedFrame(id, vector); err != nil {
		return err
	}
	payload := encodeIndexUpdate(id, vector)
	_, err := v.w.Append(types.EntryIndexUpdate, payload)
	return err
}

// Feedback appends a feedback frame scoring the frame currently active at
// uri.
func (v *Vault) Feedback(uri string, score float64, note string) (types.FrameID, error) {
	if score < -1 || score > 1 {
		return 0, fmt.Errorf("aethervault: feedback score %v out of [-1, 1]", score)
	}
	target, err := v.GetByURI(uri, 0)
	if err != nil {
		return 0, err
	}
	fbURI := types.Build(types.SchemeVault, "feedback", fmt.Sprintf("%d/%d", target.ID, nowUnix()))
	tags := map[string]string{
		"target_uri":   uri,
		"target_frame": strconv.FormatUint(uint64(target.ID), 10),
		"score":        strconv.FormatFloat(score, 'f', -1, 64),
	}
	id, err := v.Put(fbURI, []byte(note), PutOptions{Kind: types.KindFeedback, Tags: tags})
	if err != nil {
		return 0, err
	}
	return id, v.Commit()
}

// Log appends an agent-log frame for session/role.
func (v *Vault) Log(session, role, text string) (types.FrameID, error) {
	n := v.nextLogSeq(session)
	uri := types.Build(types.SchemeVault, "agent-log", fmt.Sprintf("%s/%d", session, n))
	id, err := v.Put(uri, []byte(text), PutOptions{Kind: types.KindAgentLog, Tags: map[string]string{"role": role, "session": session}})
	if err != nil {
		return 0, err
	}
	return id, v.Commit()
}

func (v *Vault) nextLogSeq(session string) int {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()
	prefix := types.Build(types.SchemeVault, "agent-log", session+"/")
	n := 0
	for _, f := range v.frames {
		if strings.HasPrefix(f.URI, prefix) {
			n++
		}
	}
	return n
}

// ConfigGet reads the current value of an in-capsule config key.
func (v *Vault) ConfigGet(key string) (string, error) {
	f, err := v.GetByURI(types.Build(types.SchemeVault, "config", key), 0)
	if err != nil {
		return "", err
	}
	return string(f.Payload), nil
}

// ConfigSet writes valueJSON as the new active value for key, tombstoning
// any prior value.
func (v *Vault) ConfigSet(key, valueJSON string) error {
	uri := types.Build(types.SchemeVault, "config", key)
	if err := v.Delete(uri); err != nil {
		return err
	}
	if _, err := v.Put(uri, []byte(valueJSON), PutOptions{Kind: types.KindConfig}); err != nil {
		return err
	}
	if err := v.Commit(); err != nil {
		return err
	}
	if key == "index" {
		v.reloadPipelineConfig()
	}
	return nil
}

func decodeIndexUpdate(payload []byte) (types.FrameID, []float64, error) {
	if len(payload) < 8 {
		return 0, nil, fmt.Errorf("%w: short index-update payload", types.ErrHeaderCorrupt)
	}
	id := types.FrameID(binary.LittleEndian.Uint64(payload[:8]))
	rest := payload[8:]
	if len(rest)%8 != 0 {
		return 0, nil, fmt.Errorf("%w: misaligned index-update vector", types.ErrHeaderCorrupt)
	}
	vector := make([]float64, len(rest)/8)
	for i := range vector {
		bits := binary.LittleEndian.Uint64(rest[i*8 : i*8+8])
		vector[i] = math.Float64frombits(bits)
	}
	return id, vector, nil
}

func encodeIndexUpdate(id types.FrameID, vector []float64) []byte {
	out := make([]byte, 8+len(vector)*8)
	binary.LittleEndian.PutUint64(out[:8], uint64(id))
	for i, f := range vector {
		binary.LittleEndian.PutUint64(out[8+i*8:8+i*8+8], math.Float64bits(f))
	}
	return out
}
