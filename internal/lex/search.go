package lex

import (
	"math"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// BM25 free parameters, standard Okapi defaults.
const (
	k1 = 1.2
	b  = 0.75
)

// Filters narrows the candidate set ahead of scoring: URI prefix, tag
// predicates, a created_at range, and an as-of frame_id ceiling.
type Filters struct {
	URIPrefix string
	Tags      map[string]string
	// CreatedAfter/CreatedBefore bound created_at inclusively; zero means
	// unbounded.
	CreatedAfter  int64
	CreatedBefore int64
	AsOf          types.FrameID // if non-zero, candidates must have FrameID <= AsOf
}

// Result is one scored lexical hit.
type Result struct {
	FrameID types.FrameID
	URI     string
	Score   float64
}

// Query tokenises q and scores every candidate frame with BM25 aggregated
// across fields using fieldBoosts (nil selects the boosts the index was
// built with, DefaultBoosts when NewIndex got nil), returning the topK
// highest-scoring results. Ties break by newer frame_id first.
func (idx *Index) Query(q string, topK int, f Filters, fieldBoosts map[string]float64) []Result {
	if fieldBoosts == nil {
		fieldBoosts = idx.boosts
	}
	terms := dedupe(idx.analyzer.Tokenize(q))
	if len(terms) == 0 {
		return nil
	}

	candidates := idx.candidateBitmap(terms)
	candidates.And(idx.active)
	candidates = idx.applyFilters(candidates, f)

	totalDocs, avgLen := idx.Stats()
	scores := map[uint32]float64{}

	it := candidates.Iterator()
	for it.HasNext() {
		fid := it.Next()
		var total float64
		for _, term := range terms {
			fieldsForTerm, ok := idx.terms[term]
			if !ok {
				continue
			}
			for field, boost := range fieldBoosts {
				fp, ok := fieldsForTerm[field]
				if !ok {
					continue
				}
				tf, ok := fp.tf[fid]
				if !ok {
					continue
				}
				df := fp.bitmap.GetCardinality()
				idf := math.Log(1 + (float64(totalDocs)-float64(df)+0.5)/(float64(df)+0.5))
				fl := float64(idx.fieldLen[fid][field])
				al := avgLen[field]
				if al == 0 {
					al = 1
				}
				norm := (float64(tf) * (k1 + 1)) / (float64(tf) + k1*(1-b+b*(fl/al)))
				total += boost * idf * norm
			}
		}
		if total > 0 {
			scores[fid] = total
		}
	}

	results := make([]Result, 0, len(scores))
	for fid, score := range scores {
		results = append(results, Result{FrameID: types.FrameID(fid), URI: idx.frameToURI[fid], Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].FrameID > results[j].FrameID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func (idx *Index) candidateBitmap(terms []string) *roaring.Bitmap {
	out := roaring.New()
	for _, term := range terms {
		fields, ok := idx.terms[term]
		if !ok {
			continue
		}
		for _, fp := range fields {
			out.Or(fp.bitmap)
		}
	}
	return out
}

func (idx *Index) applyFilters(candidates *roaring.Bitmap, f Filters) *roaring.Bitmap {
	if f.URIPrefix != "" {
		pruned := roaring.New()
		it := candidates.Iterator()
		for it.HasNext() {
			fid := it.Next()
			if strings.HasPrefix(idx.frameToURI[fid], f.URIPrefix) {
				pruned.Add(fid)
			}
		}
		candidates = pruned
	}
	for key, val := range f.Tags {
		byValue, ok := idx.tagBitmaps[key]
		if !ok {
			return roaring.New()
		}
		bm, ok := byValue[val]
		if !ok {
			return roaring.New()
		}
		candidates.And(bm)
	}
	if f.CreatedAfter != 0 || f.CreatedBefore != 0 {
		pruned := roaring.New()
		it := candidates.Iterator()
		for it.HasNext() {
			fid := it.Next()
			ts := idx.createdAt[fid]
			if f.CreatedAfter != 0 && ts < f.CreatedAfter {
				continue
			}
			if f.CreatedBefore != 0 && ts > f.CreatedBefore {
				continue
			}
			pruned.Add(fid)
		}
		candidates = pruned
	}
	if f.AsOf != 0 {
		pruned := roaring.New()
		it := candidates.Iterator()
		for it.HasNext() {
			fid := it.Next()
			if types.FrameID(fid) <= f.AsOf {
				pruned.Add(fid)
			}
		}
		candidates = pruned
	}
	return candidates
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
