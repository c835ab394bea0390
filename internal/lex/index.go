package lex

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// Field names indexed for lexical search.
const (
	FieldBody  = "body"
	FieldTitle = "title"
	FieldURI   = "uri"
	FieldTags  = "tags"
)

// DefaultBoosts are the field weights applied when a query doesn't override
// them.
func DefaultBoosts() map[string]float64 {
	return map[string]float64{FieldTitle: 2.0, FieldURI: 1.2, FieldBody: 1.0, FieldTags: 1.0}
}

// Posting is one occurrence record for a term within a single field.
type Posting struct {
	FrameID       uint32
	TermFrequency uint32
}

// fieldPostings holds, per field, a roaring bitmap of candidate frame IDs
// for cheap set intersection with filters, plus exact term frequencies for
// BM25 scoring once candidates are known. A bitmap alone can't carry term
// frequency, hence the separate map.
type fieldPostings struct {
	bitmap *roaring.Bitmap
	tf     map[uint32]uint32
}

func newFieldPostings() *fieldPostings {
	return &fieldPostings{bitmap: roaring.New(), tf: map[uint32]uint32{}}
}

// Index is a single BM25 inverted index segment's in-memory form.
type Index struct {
	analyzer Analyzer

	// terms[term][field] -> postings
	terms map[string]map[string]*fieldPostings
	// sorted term dictionary, kept for prefix scans.
	termDict []string

	fieldLen    map[uint32]map[string]int // frame -> field -> token count
	totalDocs   int
	sumFieldLen map[string]int64

	uriToFrame map[string]uint32
	frameToURI map[uint32]string
	createdAt  map[uint32]int64
	active     *roaring.Bitmap
	tagBitmaps map[string]map[string]*roaring.Bitmap // key -> value -> frames

	boosts map[string]float64
}

// NewIndex builds an empty index ready for incremental updates.
func NewIndex(analyzer Analyzer, boosts map[string]float64) *Index {
	if boosts == nil {
		boosts = DefaultBoosts()
	}
	return &Index{
		analyzer:    analyzer,
		terms:       map[string]map[string]*fieldPostings{},
		fieldLen:    map[uint32]map[string]int{},
		sumFieldLen: map[string]int64{},
		uriToFrame:  map[string]uint32{},
		frameToURI:  map[uint32]string{},
		createdAt:   map[uint32]int64{},
		active:      roaring.New(),
		tagBitmaps:  map[string]map[string]*roaring.Bitmap{},
		boosts:      boosts,
	}
}

// Rebuild constructs a fresh index from the full set of live frames,
// scanning them all and emitting a new segment.
func Rebuild(frames []*types.Frame, analyzer Analyzer, boosts map[string]float64) *Index {
	idx := NewIndex(analyzer, boosts)
	for _, f := range frames {
		idx.Add(f)
	}
	return idx
}

// Add indexes a single frame across its indexed fields: body (when the
// encoding is textual), title, uri (path-segmented), and flattened tag
// values.
func (idx *Index) Add(f *types.Frame) {
	if f.Status != types.StatusActive {
		return
	}
	fid := uint32(f.ID)
	idx.uriToFrame[f.URI] = fid
	idx.frameToURI[fid] = f.URI
	idx.createdAt[fid] = f.CreatedAt
	idx.active.Add(fid)
	idx.totalDocs++
	idx.fieldLen[fid] = map[string]int{}

	idx.indexField(fid, FieldTitle, idx.analyzer.Tokenize(f.Title))
	idx.indexField(fid, FieldURI, idx.analyzer.TokenizeURI(f.URI))
	if isTextual(f.Payload) {
		idx.indexField(fid, FieldBody, idx.analyzer.Tokenize(string(f.Payload)))
	}

	var tagTokens []string
	keys := make([]string, 0, len(f.Tags))
	for k := range f.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := f.Tags[k]
		tagTokens = append(tagTokens, idx.analyzer.Tokenize(v)...)
		idx.indexTagValue(fid, k, v)
	}
	idx.indexField(fid, FieldTags, tagTokens)
}

// isTextual sniffs a decoded payload for body indexing: valid UTF-8 with no
// NUL bytes and a low ratio of control characters rules out opaque binary
// blobs (e.g. raw embeddings or images stored as content frames).
func isTextual(payload []byte) bool {
	if len(payload) == 0 || !utf8.Valid(payload) {
		return false
	}
	var control int
	for _, b := range payload {
		if b == 0 {
			return false
		}
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			control++
		}
	}
	return float64(control)/float64(len(payload)) < 0.3
}

func (idx *Index) indexField(fid uint32, field string, tokens []string) {
	idx.fieldLen[fid][field] = len(tokens)
	idx.sumFieldLen[field] += int64(len(tokens))
	counts := map[string]uint32{}
	for _, t := range tokens {
		counts[t]++
	}
	for term, tf := range counts {
		fp, ok := idx.terms[term]
		if !ok {
			fp = map[string]*fieldPostings{}
			idx.terms[term] = fp
			idx.insertTermDict(term)
		}
		fieldPost, ok := fp[field]
		if !ok {
			fieldPost = newFieldPostings()
			fp[field] = fieldPost
		}
		fieldPost.bitmap.Add(fid)
		fieldPost.tf[fid] = tf
	}
}

func (idx *Index) indexTagValue(fid uint32, key, value string) {
	byValue, ok := idx.tagBitmaps[key]
	if !ok {
		byValue = map[string]*roaring.Bitmap{}
		idx.tagBitmaps[key] = byValue
	}
	bm, ok := byValue[value]
	if !ok {
		bm = roaring.New()
		byValue[value] = bm
	}
	bm.Add(fid)
}

func (idx *Index) insertTermDict(term string) {
	i := sort.SearchStrings(idx.termDict, term)
	idx.termDict = append(idx.termDict, "")
	copy(idx.termDict[i+1:], idx.termDict[i:])
	idx.termDict[i] = term
}

// Remove retires a frame from the index (used when a tombstone is
// checkpointed). It leaves postings in place but drops the frame from the
// active bitmap so it is excluded from future candidate sets; a full
// rebuild reclaims the dead postings' space.
func (idx *Index) Remove(frameID types.FrameID) {
	idx.active.Remove(uint32(frameID))
}

// PrefixTerms returns every indexed term with the given prefix, using the
// sorted term dictionary's binary-search range.
func (idx *Index) PrefixTerms(prefix string) []string {
	lo := sort.SearchStrings(idx.termDict, prefix)
	var out []string
	for i := lo; i < len(idx.termDict); i++ {
		if !strings.HasPrefix(idx.termDict[i], prefix) {
			break
		}
		out = append(out, idx.termDict[i])
	}
	return out
}

// FrameByURI resolves a live URI to its frame_id.
func (idx *Index) FrameByURI(uri string) (types.FrameID, bool) {
	fid, ok := idx.uriToFrame[uri]
	return types.FrameID(fid), ok
}

// URIs returns every URI currently tracked by the index, for orphan
// detection against the live frame set.
func (idx *Index) URIs() []string {
	out := make([]string, 0, len(idx.uriToFrame))
	for uri := range idx.uriToFrame {
		out = append(out, uri)
	}
	return out
}

// Stats reports total docs and average field length, for the manifest and
// BM25's length-normalisation term.
func (idx *Index) Stats() (totalDocs int, avgLen map[string]float64) {
	avgLen = map[string]float64{}
	for field, sum := range idx.sumFieldLen {
		if idx.totalDocs > 0 {
			avgLen[field] = float64(sum) / float64(idx.totalDocs)
		}
	}
	return idx.totalDocs, avgLen
}
