// token.go: continuation token codec for query pagination
package query

import (
	"encoding/base64"
	"encoding/json"

	"github.com/tphakala/birdtag/internal/errors"
)

// tokenVersion guards against tokens issued by an incompatible build.
const tokenVersion = 1

// scanCursor records the consumption frontier of one index scan: the last
// row handed to the merge, or Done when the scan ran dry.
type scanCursor struct {
	Confidence float64 `json:"c"`
	MediaID    string  `json:"id"`
	Done       bool    `json:"done,omitempty"`
}

// tokenPredicate is the normalized predicate a token was issued for.
type tokenPredicate struct {
	TagName       string  `json:"t"`
	MinConfidence float64 `json:"m"`
}

// pageToken is the JSON envelope behind a continuation token. It binds the
// cursors to the exact request shape so a token cannot resume a different
// query.
type pageToken struct {
	Version    int              `json:"v"`
	Combinator string           `json:"cb"`
	FileType   string           `json:"ft,omitempty"`
	Predicates []tokenPredicate `json:"p,omitempty"`
	Driver     int              `json:"d,omitempty"` // ALL: index of the driving scan
	Cursors    []scanCursor     `json:"cur"`
}

// encodeToken serializes a page token as URL-safe base64.
func encodeToken(token *pageToken) (string, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return "", errors.New(err).
			Component("query").
			Category(errors.CategoryState).
			Context("operation", "encode_token").
			Build()
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// decodeToken parses a continuation token and verifies it matches the
// normalized request it is being replayed against. A token for a different
// predicate set, combinator or file type filter is invalid input.
func decodeToken(raw string, combinator Combinator, fileType string, predicates []Predicate) (*pageToken, error) {
	invalid := func(reason string) error {
		return errors.Newf("invalid continuation token: %s", reason).
			Component("query").
			Category(errors.CategoryValidation).
			Context("reason", reason).
			Build()
	}

	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, invalid("malformed encoding")
	}

	var token pageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, invalid("malformed payload")
	}

	if token.Version != tokenVersion {
		return nil, invalid("unsupported version")
	}
	if token.Combinator != string(combinator) {
		return nil, invalid("combinator mismatch")
	}
	if token.FileType != fileType {
		return nil, invalid("file type mismatch")
	}
	if len(token.Predicates) != len(predicates) {
		return nil, invalid("predicate mismatch")
	}
	for i := range predicates {
		if token.Predicates[i].TagName != predicates[i].TagName ||
			token.Predicates[i].MinConfidence != predicates[i].MinConfidence {
			return nil, invalid("predicate mismatch")
		}
	}
	if token.Driver < 0 || (len(predicates) > 0 && token.Driver >= len(predicates)) {
		return nil, invalid("driver out of range")
	}

	return &token, nil
}

// tokenPredicates converts normalized request predicates into token form.
func tokenPredicates(predicates []Predicate) []tokenPredicate {
	out := make([]tokenPredicate, len(predicates))
	for i, p := range predicates {
		out[i] = tokenPredicate{TagName: p.TagName, MinConfidence: p.MinConfidence}
	}
	return out
}
