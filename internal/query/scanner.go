package query

import (
	"context"

	"github.com/tphakala/birdtag/internal/datastore"
)

// indexScanner pulls one predicate's index scan in batches and exposes it as
// a peekable stream. The cursor always points at the last row handed out, so
// a token built from cursorState resumes exactly after that row.
type indexScanner struct {
	store     datastore.Interface
	tagName   string
	minConf   float64
	fileType  string
	batchSize int

	buf       []datastore.TagScanRow
	pos       int
	cursor    scanCursor
	started   bool
	exhausted bool
	scanned   int
}

func newIndexScanner(store datastore.Interface, predicate Predicate, fileType string, batchSize int, cursor *scanCursor) *indexScanner {
	s := &indexScanner{
		store:     store,
		tagName:   predicate.TagName,
		minConf:   predicate.MinConfidence,
		fileType:  fileType,
		batchSize: batchSize,
	}
	if cursor != nil {
		if cursor.Done {
			s.exhausted = true
		} else if cursor.MediaID != "" {
			s.cursor = *cursor
			s.started = true
		}
	}
	return s
}

// peek returns the next row without consuming it, or nil when the scan ran
// dry. A nil row is terminal.
func (s *indexScanner) peek(ctx context.Context) (*datastore.TagScanRow, error) {
	for !s.exhausted && s.pos >= len(s.buf) {
		if err := s.fill(ctx); err != nil {
			return nil, err
		}
	}
	if s.exhausted {
		return nil, nil
	}
	return &s.buf[s.pos], nil
}

// next consumes the row last returned by peek and advances the cursor to it.
func (s *indexScanner) next() {
	row := s.buf[s.pos]
	s.cursor = scanCursor{Confidence: row.Confidence, MediaID: row.MediaID}
	s.started = true
	s.pos++
}

// hasMore reports whether another row remains, possibly fetching a batch.
func (s *indexScanner) hasMore(ctx context.Context) (bool, error) {
	row, err := s.peek(ctx)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// cursorState snapshots the scan frontier for a continuation token.
func (s *indexScanner) cursorState() scanCursor {
	if s.exhausted && s.pos >= len(s.buf) {
		return scanCursor{Done: true}
	}
	return s.cursor
}

func (s *indexScanner) fill(ctx context.Context) error {
	req := &datastore.TagScanRequest{
		TagName:       s.tagName,
		FileType:      s.fileType,
		MinConfidence: s.minConf,
		Limit:         s.batchSize,
	}
	if s.started {
		req.AfterCursor = true
		req.AfterConfidence = s.cursor.Confidence
		req.AfterMediaID = s.cursor.MediaID
	}

	rows, err := s.store.TagScan(ctx, req)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		s.exhausted = true
		return nil
	}

	// fill only runs once every buffered row was consumed, so s.cursor
	// already points at the row this batch resumes after
	s.buf = rows
	s.pos = 0
	s.scanned += len(rows)
	return nil
}
