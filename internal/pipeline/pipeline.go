// Package pipeline composes the hybrid retrieval path: query expansion,
// concurrent lexical/vector lanes, reciprocal-rank fusion with bonus terms,
// optional rerank, positional blending, and result projection.
package pipeline

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sunilkgrao/aethervault/internal/hooks"
	"github.com/sunilkgrao/aethervault/internal/lex"
	"github.com/sunilkgrao/aethervault/internal/types"
	"github.com/sunilkgrao/aethervault/internal/vec"
)

// Config holds the tunable parameters read from aethervault://config/index.
// Fields absent from the stored JSON keep whatever value Config already
// held (DefaultConfig, typically) when it's decoded into.
type Config struct {
	KRRF           float64            `json:"k_rrf"`
	FieldBoosts    map[string]float64 `json:"field_boosts"`
	BonusURI       float64            `json:"bonus_uri"`
	BonusFeedback  float64            `json:"bonus_feedback"`
	BonusRecency   float64            `json:"bonus_recency"`
	HalfLifeDays   float64            `json:"half_life_days"`
	EfSearch       int                `json:"ef_search"`
	RerankTopN     int                `json:"rerank_top_n"`
	RerankDeadline time.Duration      `json:"rerank_deadline_ns"`
	ExpandDeadline time.Duration      `json:"expand_deadline_ns"`
	EmbedDeadline  time.Duration      `json:"embed_deadline_ns"`
}

// DefaultConfig matches the defaults named in the retrieval pipeline spec.
func DefaultConfig() Config {
	return Config{
		KRRF:           60,
		FieldBoosts:    lex.DefaultBoosts(),
		BonusURI:       0.5,
		BonusFeedback:  0.3,
		BonusRecency:   0.2,
		HalfLifeDays:   30,
		EfSearch:       vec.DefaultEfSearch,
		RerankTopN:     50,
		RerankDeadline: 2 * time.Second,
		ExpandDeadline: 1 * time.Second,
		EmbedDeadline:  2 * time.Second,
	}
}

// FrameLookup resolves a frame_id to its frame, used for snippet extraction
// and projection.
type FrameLookup interface {
	FrameByID(id types.FrameID) (*types.Frame, bool)
}

// FeedbackLookup returns the normalised feedback score in [-1, 1] previously
// recorded against a frame, or 0 if none exists.
type FeedbackLookup interface {
	NormalizedFeedback(id types.FrameID) float64
}

// Pipeline wires the lanes and hooks together. Vec may be nil (no vector
// lane); Expand/Rerank/Embed may be nil (hook disabled, step skipped).
type Pipeline struct {
	Lex      *lex.Index
	Vec      *vec.Index
	Frames   FrameLookup
	Feedback FeedbackLookup
	Expand   hooks.Func
	Rerank   hooks.Func
	Embed    hooks.Func
	Config   Config
}

// Options configures one Search invocation.
type Options struct {
	TopK    int
	Filters lex.Filters
	AsOf    types.FrameID
	Lanes   []string // "lex", "vec"; empty means all available
	Now     int64    // seconds since epoch, for recency scoring
}

// Result is one fused, projected hit.
type Result struct {
	FrameID    types.FrameID
	URI        string
	Title      string
	Score      float64
	Rank       int
	Snippet    string
	Provenance []string
}

type laneHit struct {
	frameID types.FrameID
	rank    int // 1-based
}

// Search runs the full pipeline and returns the top opts.TopK results.
func Search(ctx context.Context, p *Pipeline, query string, opts Options) ([]Result, error) {
	resolvedQuery := query
	if p.Expand != nil {
		resp, err := hooks.Expand(ctx, p.Expand, p.Config.ExpandDeadline, query)
		if err == nil {
			resolvedQuery = resp.RewrittenQuery
			if len(resp.ExtraTerms) > 0 {
				resolvedQuery = resolvedQuery + " " + strings.Join(resp.ExtraTerms, " ")
			}
		}
	}

	wantLex := laneWanted(opts.Lanes, "lex")
	wantVec := laneWanted(opts.Lanes, "vec") && p.Vec != nil

	var lexHits, vecHits []laneHit
	g, gctx := errgroup.WithContext(ctx)
	if wantLex {
		g.Go(func() error {
			results := p.Lex.Query(resolvedQuery, maxCandidates(opts.TopK), opts.Filters, p.Config.FieldBoosts)
			lexHits = make([]laneHit, len(results))
			for i, r := range results {
				lexHits[i] = laneHit{frameID: r.FrameID, rank: i + 1}
			}
			return nil
		})
	}
	if wantVec && p.Embed != nil {
		g.Go(func() error {
			embed, err := hooks.Embed(gctx, p.Embed, p.Config.EmbedDeadline, resolvedQuery)
			if err != nil {
				return nil
			}
			filter := func(id types.FrameID) bool {
				if opts.AsOf != 0 && id > opts.AsOf {
					return false
				}
				return matchesFilters(p.Frames, id, opts.Filters)
			}
			results, err := p.Vec.Search(embed.Vector, maxCandidates(opts.TopK), p.Config.EfSearch, filter)
			if err != nil {
				return nil
			}
			vecHits = make([]laneHit, len(results))
			for i, r := range results {
				vecHits[i] = laneHit{frameID: r.FrameID, rank: i + 1}
			}
			return nil
		})
	}
	_ = g.Wait()

	fused := p.fuse(lexHits, vecHits, opts)
	if p.Rerank != nil && len(fused) > 0 {
		fused = p.rerank(ctx, resolvedQuery, fused)
	}
	fused = p.blend(resolvedQuery, fused, opts.TopK)

	if len(fused) > opts.TopK && opts.TopK > 0 {
		fused = fused[:opts.TopK]
	}
	return p.project(fused), nil
}

// matchesFilters applies the same URI-prefix, tag, and created_at bounds
// that lex.Index.applyFilters enforces against its roaring-bitmap candidate
// set, but per-frame, since vec.Index.Search's filter has no bitmap of
// frame metadata to intersect against.
func matchesFilters(frames FrameLookup, id types.FrameID, f lex.Filters) bool {
	fr, ok := frames.FrameByID(id)
	if !ok {
		return false
	}
	if f.URIPrefix != "" && !strings.HasPrefix(fr.URI, f.URIPrefix) {
		return false
	}
	for key, val := range f.Tags {
		if fr.Tags[key] != val {
			return false
		}
	}
	if f.CreatedAfter != 0 && fr.CreatedAt < f.CreatedAfter {
		return false
	}
	if f.CreatedBefore != 0 && fr.CreatedAt > f.CreatedBefore {
		return false
	}
	return true
}

func laneWanted(lanes []string, name string) bool {
	if len(lanes) == 0 {
		return true
	}
	for _, l := range lanes {
		if l == name {
			return true
		}
	}
	return false
}

func maxCandidates(topK int) int {
	if topK <= 0 {
		return 200
	}
	if topK*4 > 200 {
		return topK * 4
	}
	return 200
}

type scored struct {
	frameID    types.FrameID
	score      float64
	provenance map[string]bool
}

// fuse combines lex and vec lane rankings with Reciprocal Rank Fusion plus
// bonus terms (URI-filter match, feedback, recency).
func (p *Pipeline) fuse(lexHits, vecHits []laneHit, opts Options) []scored {
	acc := map[types.FrameID]*scored{}
	add := func(hits []laneHit, lane string) {
		for _, h := range hits {
			s, ok := acc[h.frameID]
			if !ok {
				s = &scored{frameID: h.frameID, provenance: map[string]bool{}}
				acc[h.frameID] = s
			}
			s.score += 1 / (p.Config.KRRF + float64(h.rank))
			s.provenance[lane] = true
		}
	}
	add(lexHits, "lex")
	add(vecHits, "vec")

	for _, s := range acc {
		f, ok := p.Frames.FrameByID(s.frameID)
		if !ok {
			continue
		}
		if opts.Filters.URIPrefix != "" && strings.HasPrefix(f.URI, opts.Filters.URIPrefix) {
			s.score += p.Config.BonusURI
		}
		if p.Feedback != nil {
			s.score += p.Config.BonusFeedback * p.Feedback.NormalizedFeedback(s.frameID)
		}
		if opts.Now > 0 && p.Config.HalfLifeDays > 0 {
			ageDays := float64(opts.Now-f.CreatedAt) / 86400
			if ageDays < 0 {
				ageDays = 0
			}
			s.score += p.Config.BonusRecency * math.Exp(-ageDays/p.Config.HalfLifeDays)
		}
	}

	out := make([]scored, 0, len(acc))
	for _, s := range acc {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].frameID > out[j].frameID
	})
	return out
}

func (p *Pipeline) rerank(ctx context.Context, query string, in []scored) []scored {
	n := p.Config.RerankTopN
	if n <= 0 || n > len(in) {
		n = len(in)
	}
	top := in[:n]
	rest := in[n:]

	cands := make([]hooks.RerankCandidate, len(top))
	for i, s := range top {
		uri := ""
		if f, ok := p.Frames.FrameByID(s.frameID); ok {
			uri = f.URI
		}
		cands[i] = hooks.RerankCandidate{FrameID: s.frameID, URI: uri, Score: s.score}
	}

	resp, err := hooks.Rerank(ctx, p.Rerank, p.Config.RerankDeadline, query, cands)
	if err != nil {
		return in
	}

	provByID := map[types.FrameID]map[string]bool{}
	for _, s := range top {
		provByID[s.frameID] = s.provenance
	}
	reranked := make([]scored, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		reranked = append(reranked, scored{frameID: c.FrameID, score: c.Score, provenance: provByID[c.FrameID]})
	}
	return append(reranked, rest...)
}

// blend applies positional protection: the first frame in the top 2k whose
// title contains every query term is moved into the top-k if it is not
// already there. A match ranked below the top 2k is left where it is.
func (p *Pipeline) blend(query string, in []scored, topK int) []scored {
	if topK <= 0 {
		topK = len(in)
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return in
	}
	window := 2 * topK
	if window > len(in) || window <= 0 {
		window = len(in)
	}

	exactIdx := -1
	for i := 0; i < window; i++ {
		f, ok := p.Frames.FrameByID(in[i].frameID)
		if !ok {
			continue
		}
		title := strings.ToLower(f.Title)
		matchesAll := true
		for _, t := range terms {
			if !strings.Contains(title, t) {
				matchesAll = false
				break
			}
		}
		if matchesAll {
			exactIdx = i
			break
		}
	}
	if exactIdx < 0 || exactIdx < topK {
		return in
	}

	out := append([]scored(nil), in...)
	item := out[exactIdx]
	out = append(out[:exactIdx], out[exactIdx+1:]...)
	insertAt := topK - 1
	if insertAt < 0 {
		insertAt = 0
	}
	if insertAt > len(out) {
		insertAt = len(out)
	}
	out = append(out[:insertAt], append([]scored{item}, out[insertAt:]...)...)
	return out
}

func (p *Pipeline) project(in []scored) []Result {
	out := make([]Result, 0, len(in))
	for i, s := range in {
		var uri, title, snippet string
		if f, ok := p.Frames.FrameByID(s.frameID); ok {
			uri = f.URI
			title = f.Title
			snippet = extractSnippet(f.Payload, 200)
		}
		lanes := make([]string, 0, len(s.provenance))
		for l := range s.provenance {
			lanes = append(lanes, l)
		}
		sort.Strings(lanes)
		out = append(out, Result{
			FrameID:    s.frameID,
			URI:        uri,
			Title:      title,
			Score:      s.score,
			Rank:       i + 1,
			Snippet:    snippet,
			Provenance: lanes,
		})
	}
	return out
}

func extractSnippet(payload []byte, maxLen int) string {
	s := string(payload)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
