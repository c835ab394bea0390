// Package hooks defines the call contract for external capabilities the
// retrieval pipeline invokes: query expansion, rerank, and embedding. Hooks
// are untrusted: a timeout or malformed response never corrupts core state.
// The wrappers return the pre-hook fallback together with ErrHookTimeout or
// ErrHookInvalid; the pipeline uses the fallback and does not log the error.
package hooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// Func is the shape every hook implementation satisfies: a single
// request/response round trip bounded by ctx's deadline. Implementations
// backed by a subprocess, HTTP call, or in-process function all fit this
// signature.
type Func func(ctx context.Context, request json.RawMessage) (json.RawMessage, error)

// Call invokes fn with the given deadline, translating context.DeadlineExceeded
// into ErrHookTimeout, and a nil fn, an unmarshalable request or any other
// error from fn into ErrHookInvalid, so callers never need to special-case
// the underlying transport. It does not decode the response.
func Call(ctx context.Context, fn Func, deadline time.Duration, request interface{}) (json.RawMessage, error) {
	if fn == nil {
		return nil, types.ErrHookInvalid
	}
	req, err := json.Marshal(request)
	if err != nil {
		return nil, types.ErrHookInvalid
	}
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resp, err := fn(cctx, req)
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return nil, types.ErrHookTimeout
		}
		return nil, types.ErrHookInvalid
	}
	return resp, nil
}

// ExpansionRequest is sent to the query-expansion hook.
type ExpansionRequest struct {
	Query string `json:"query"`
}

// ExpansionResponse carries the hook's rewritten query and extra terms.
type ExpansionResponse struct {
	RewrittenQuery string   `json:"rewritten_query"`
	ExtraTerms     []string `json:"extra_terms"`
}

// Expand calls fn to rewrite query, falling back to the original query
// unmodified on any hook failure.
func Expand(ctx context.Context, fn Func, deadline time.Duration, query string) (ExpansionResponse, error) {
	raw, err := Call(ctx, fn, deadline, ExpansionRequest{Query: query})
	if err != nil {
		return ExpansionResponse{RewrittenQuery: query}, err
	}
	var resp ExpansionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ExpansionResponse{RewrittenQuery: query}, types.ErrHookInvalid
	}
	if resp.RewrittenQuery == "" {
		resp.RewrittenQuery = query
	}
	return resp, nil
}

// RerankCandidate is one item offered to the rerank hook.
type RerankCandidate struct {
	FrameID types.FrameID `json:"frame_id"`
	URI     string        `json:"uri"`
	Score   float64       `json:"score"`
}

// RerankRequest carries the query and the top-N pre-rerank candidates.
type RerankRequest struct {
	Query      string            `json:"query"`
	Candidates []RerankCandidate `json:"candidates"`
}

// RerankResponse carries the hook's reordered candidates with new scores.
type RerankResponse struct {
	Candidates []RerankCandidate `json:"candidates"`
}

// Rerank calls fn with the top-N candidates, returning the hook's
// permutation and scores. Callers must fall back to the input order
// unchanged when err is non-nil.
func Rerank(ctx context.Context, fn Func, deadline time.Duration, query string, candidates []RerankCandidate) (RerankResponse, error) {
	raw, err := Call(ctx, fn, deadline, RerankRequest{Query: query, Candidates: candidates})
	if err != nil {
		return RerankResponse{Candidates: candidates}, err
	}
	var resp RerankResponse
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Candidates) == 0 {
		return RerankResponse{Candidates: candidates}, types.ErrHookInvalid
	}
	return resp, nil
}

// EmbedRequest asks the embedding hook to vectorise text.
type EmbedRequest struct {
	Text string `json:"text"`
}

// EmbedResponse carries the embedding vector.
type EmbedResponse struct {
	Vector []float64 `json:"vector"`
}

// Embed calls fn to vectorise text for the vector-search lane.
func Embed(ctx context.Context, fn Func, deadline time.Duration, text string) (EmbedResponse, error) {
	raw, err := Call(ctx, fn, deadline, EmbedRequest{Text: text})
	if err != nil {
		return EmbedResponse{}, err
	}
	var resp EmbedResponse
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Vector) == 0 {
		return EmbedResponse{}, types.ErrHookInvalid
	}
	return resp, nil
}
