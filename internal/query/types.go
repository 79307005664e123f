// Package query implements the tag query engine: multi-predicate
// tag/confidence/file-type queries over the tag index with deterministic
// pagination.
package query

import (
	"github.com/tphakala/birdtag/internal/datastore"
)

// Combinator is the boolean mode over multiple tag predicates.
type Combinator string

const (
	// CombinatorAll intersects the predicate candidate sets.
	CombinatorAll Combinator = "ALL"
	// CombinatorAny unions the predicate candidate sets.
	CombinatorAny Combinator = "ANY"
)

// Predicate is one tag≥threshold condition. Matching is case-insensitive
// exact on the tag name and inclusive on the confidence threshold.
type Predicate struct {
	TagName       string
	MinConfidence float64
}

// Request describes one query page. Token resumes a previous request; the
// token must have been issued for the same predicates, combinator and file
// type filter.
type Request struct {
	Predicates []Predicate
	FileType   string // optional filter, empty for all types
	Combinator Combinator
	PageSize   int    // 0 for the configured default
	Token      string // empty for the first page
}

// Summary is one matching media item. MatchedTags maps each satisfied
// predicate's tag name to the record's confidence for it.
type Summary struct {
	ID           string
	FileType     string
	StorageRef   string
	ThumbnailRef string // empty when no thumbnail exists
	MatchedTags  map[string]float64
}

// DisplayRef returns the reference callers should present: the thumbnail
// for images when one exists, the raw storage ref otherwise.
func (s *Summary) DisplayRef() string {
	if s.FileType == datastore.FileTypeImage && s.ThumbnailRef != "" {
		return s.ThumbnailRef
	}
	return s.StorageRef
}

// Result is one served page. NextToken is empty when the result set is
// exhausted.
type Result struct {
	Items     []Summary
	NextToken string
}
