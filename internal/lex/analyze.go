// Package lex implements a BM25 inverted index over tokenised frame text:
// analysis, postings, term dictionary and query scoring.
package lex

import (
	"strings"
	"unicode"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
	"github.com/blevesearch/segment"
)

// stopwords is a small, fixed English stop-word list. The Analyzer's Stem
// and DropStop fields switch stemming and stop-word removal for the whole
// analyzer; there is no per-tag or per-language setting.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {},
}

// Analyzer tokenises text into lowercased terms, optionally stemming and
// dropping stop words.
type Analyzer struct {
	Stem     bool
	DropStop bool
}

// DefaultAnalyzer applies lowercasing and stop-word removal with stemming
// off.
var DefaultAnalyzer = Analyzer{Stem: false, DropStop: true}

// Tokenize splits text on Unicode word boundaries via
// github.com/blevesearch/segment, lowercases, drops stop words, and
// optionally stems with the Porter algorithm.
func (a Analyzer) Tokenize(text string) []string {
	var out []string
	seg := segment.NewWordSegmenterDirect([]byte(text))
	for seg.Segment() {
		typ := seg.Type()
		if typ != segment.Letter && typ != segment.Number {
			continue
		}
		tok := strings.ToLower(string(seg.Bytes()))
		if tok == "" {
			continue
		}
		if a.DropStop {
			if _, stop := stopwords[tok]; stop {
				continue
			}
		}
		if a.Stem && isASCIILetters(tok) {
			tok = porterstemmer.StemString(tok)
		}
		out = append(out, tok)
	}
	return out
}

func isASCIILetters(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// TokenizeURI splits a URI into path segments for the "uri" field.
func (a Analyzer) TokenizeURI(uri string) []string {
	parts := strings.FieldsFunc(uri, func(r rune) bool {
		return r == '/' || r == ':' || r == '.' || r == '-' || r == '_'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, strings.ToLower(p))
	}
	return out
}
