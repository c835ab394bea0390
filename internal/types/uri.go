package types

import (
	"fmt"
	"net/url"
	"strings"
)

// URI schemes recognised by the capsule.
const (
	SchemeContent = "aether"
	SchemeVault   = "aethervault"
)

// ParsedURI is a decomposed capsule URI: either
// aether://<collection>/<path> (content) or
// aethervault://<track>/<rest...> (config, agent-log, feedback).
type ParsedURI struct {
	Scheme     string
	Collection string // aether: collection; aethervault: track (config/agent-log/feedback)
	Path       string // percent-decoded remainder
}

// Parse validates and decomposes a capsule URI, percent-decoding path
// segments. It returns ErrBadURI for anything that isn't one of the two
// recognised schemes or that fails percent-decoding.
func Parse(uri string) (ParsedURI, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return ParsedURI{}, fmt.Errorf("%w: %v", ErrBadURI, err)
	}
	switch u.Scheme {
	case SchemeContent, SchemeVault:
	default:
		return ParsedURI{}, fmt.Errorf("%w: unknown scheme %q", ErrBadURI, u.Scheme)
	}
	if u.Host == "" {
		return ParsedURI{}, fmt.Errorf("%w: missing collection/track", ErrBadURI)
	}
	path := strings.TrimPrefix(u.Path, "/")
	return ParsedURI{Scheme: u.Scheme, Collection: u.Host, Path: path}, nil
}

// Track returns the logical track this URI belongs to: "content",
// "agent-log", "feedback", or "config". Tracks are query-time predicates
// over the URI prefix, never a physical partition.
func (p ParsedURI) Track() string {
	if p.Scheme == SchemeContent {
		return "content"
	}
	return p.Collection
}

// Session returns the agent-log session segment for
// aethervault://agent-log/<session>/<n> URIs, or "" otherwise.
func (p ParsedURI) Session() string {
	if p.Collection != "agent-log" {
		return ""
	}
	if i := strings.IndexByte(p.Path, '/'); i >= 0 {
		return p.Path[:i]
	}
	return p.Path
}

// Build reassembles a capsule URI from its parts, percent-encoding the path.
func Build(scheme, collection, path string) string {
	u := url.URL{Scheme: scheme, Host: collection, Path: "/" + path}
	return u.String()
}
