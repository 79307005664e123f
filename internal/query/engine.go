// engine.go: predicate evaluation over the tag index
package query

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/datastore"
	"github.com/tphakala/birdtag/internal/errors"
	"github.com/tphakala/birdtag/internal/logging"
	"github.com/tphakala/birdtag/internal/observability/metrics"
)

// Engine serves tag queries. Queries are pure reads: they never take media
// writer locks and may be cancelled at any time with no side effects.
type Engine struct {
	store    datastore.Interface
	settings conf.QuerySettings
	metrics  *metrics.QueryMetrics
	logger   *slog.Logger
}

// NewEngine creates a query engine. settings nil selects the built-in
// defaults; queryMetrics may be nil.
func NewEngine(store datastore.Interface, settings *conf.QuerySettings, queryMetrics *metrics.QueryMetrics) *Engine {
	logger := logging.ForService("query")
	if logger == nil {
		logger = slog.Default().With("service", "query")
	}

	resolved := conf.QuerySettings{DefaultPageSize: 100, MaxPageSize: 1000, ScanBatchSize: 500}
	if settings != nil {
		resolved = *settings
	}

	return &Engine{
		store:    store,
		settings: resolved,
		metrics:  queryMetrics,
		logger:   logger,
	}
}

// validationErr builds an InvalidInput error for a malformed request.
func validationErr(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("query").
		Category(errors.CategoryValidation).
		Build()
}

// normalizeRequest validates the request and returns the folded predicate
// list, the effective combinator and the clamped page size.
func (e *Engine) normalizeRequest(req *Request) ([]Predicate, Combinator, int, error) {
	combinator := req.Combinator
	if combinator == "" {
		combinator = CombinatorAll
	}
	if combinator != CombinatorAll && combinator != CombinatorAny {
		return nil, "", 0, validationErr("unknown combinator %q", string(req.Combinator))
	}

	if req.FileType != "" && !datastore.ValidFileType(req.FileType) {
		return nil, "", 0, validationErr("unknown file type %q", req.FileType)
	}

	if len(req.Predicates) == 0 && req.FileType == "" {
		return nil, "", 0, validationErr("a query needs at least one tag predicate or a file type filter")
	}

	predicates := make([]Predicate, len(req.Predicates))
	for i, p := range req.Predicates {
		tag := datastore.NormalizeTag(p.TagName)
		if tag == "" {
			return nil, "", 0, validationErr("tag name must not be empty")
		}
		if p.MinConfidence < 0 || p.MinConfidence > 1 {
			return nil, "", 0, validationErr("confidence must be within [0,1], got %v", p.MinConfidence)
		}
		predicates[i] = Predicate{TagName: tag, MinConfidence: p.MinConfidence}
	}

	pageSize := req.PageSize
	switch {
	case pageSize < 0:
		return nil, "", 0, validationErr("page size must not be negative, got %d", pageSize)
	case pageSize == 0:
		pageSize = e.settings.DefaultPageSize
	case pageSize > e.settings.MaxPageSize:
		pageSize = e.settings.MaxPageSize
	}

	return predicates, combinator, pageSize, nil
}

// Query evaluates one page of a tag query. Results are ordered by
// confidence descending with media id as the deterministic tie break; the
// returned token resumes the enumeration without duplicating or skipping
// already-enumerated positions under concurrent inserts.
func (e *Engine) Query(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	predicates, combinator, pageSize, err := e.normalizeRequest(req)
	if err != nil {
		e.recordQuery("", start, err)
		return nil, err
	}

	var token *pageToken
	if req.Token != "" {
		if token, err = decodeToken(req.Token, combinator, req.FileType, predicates); err != nil {
			e.recordQuery(combinator, start, err)
			return nil, err
		}
	}

	var result *Result
	switch {
	case len(predicates) == 0:
		result, err = e.listByFileType(ctx, req.FileType, pageSize, token)
	case combinator == CombinatorAll:
		result, err = e.queryAll(ctx, predicates, req.FileType, pageSize, token)
	default:
		result, err = e.queryAny(ctx, predicates, req.FileType, pageSize, token)
	}

	e.recordQuery(combinator, start, err)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordResultSize(len(result.Items))
	}
	return result, nil
}

// queryAll intersects the predicate candidate sets. The scan with the
// smallest estimated result drives enumeration; every driver candidate is
// probed against the remaining predicates, so work is proportional to the
// smallest set rather than the sum of all sets.
func (e *Engine) queryAll(ctx context.Context, predicates []Predicate, fileType string, pageSize int, token *pageToken) (*Result, error) {
	driver := 0
	var cursor *scanCursor

	if token != nil {
		if len(token.Cursors) != 1 {
			return nil, validationErr("invalid continuation token: cursor mismatch")
		}
		driver = token.Driver
		cursor = &token.Cursors[0]
	} else {
		best := int64(math.MaxInt64)
		for i, p := range predicates {
			count, err := e.store.CountTag(ctx, p.TagName, fileType, p.MinConfidence)
			if err != nil {
				return nil, err
			}
			if count < best {
				best = count
				driver = i
			}
		}
	}

	scanner := newIndexScanner(e.store, predicates[driver], fileType, e.settings.ScanBatchSize, cursor)

	ids := make([]string, 0, pageSize)
	matchedByID := make(map[string]map[string]float64, pageSize)

	for len(ids) < pageSize {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}

		row, err := scanner.peek(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		scanner.next()

		matched := map[string]float64{predicates[driver].TagName: row.Confidence}
		ok := true
		for j, p := range predicates {
			if j == driver {
				continue
			}
			confidence, found, err := e.store.GetTagConfidence(ctx, row.MediaID, p.TagName)
			if err != nil {
				return nil, err
			}
			if !found || confidence < p.MinConfidence {
				ok = false
				break
			}
			matched[p.TagName] = confidence
		}
		if !ok {
			continue
		}

		ids = append(ids, row.MediaID)
		matchedByID[row.MediaID] = matched
	}

	e.recordScanned(scanner.scanned)

	items, err := e.summarize(ctx, ids, matchedByID)
	if err != nil {
		return nil, err
	}

	nextToken := ""
	if more, err := scanner.hasMore(ctx); err != nil {
		return nil, err
	} else if more {
		nextToken, err = encodeToken(&pageToken{
			Version:    tokenVersion,
			Combinator: string(CombinatorAll),
			FileType:   fileType,
			Predicates: tokenPredicates(predicates),
			Driver:     driver,
			Cursors:    []scanCursor{scanner.cursorState()},
		})
		if err != nil {
			return nil, err
		}
	}

	return &Result{Items: items, NextToken: nextToken}, nil
}

// queryAny unions the predicate candidate sets with a k-way merge over all
// scans ordered by (confidence DESC, mediaID ASC, predicate index ASC). A
// media item matching several predicates is emitted only at its minimal
// merged position: before emitting, the remaining predicates are probed for
// a qualifying occurrence that orders earlier. That keeps enumeration
// duplicate-free across pages without remembering emitted ids.
func (e *Engine) queryAny(ctx context.Context, predicates []Predicate, fileType string, pageSize int, token *pageToken) (*Result, error) {
	if token != nil && len(token.Cursors) != len(predicates) {
		return nil, validationErr("invalid continuation token: cursor mismatch")
	}

	scanners := make([]*indexScanner, len(predicates))
	for i, p := range predicates {
		var cursor *scanCursor
		if token != nil {
			cursor = &token.Cursors[i]
		}
		scanners[i] = newIndexScanner(e.store, p, fileType, e.settings.ScanBatchSize, cursor)
	}

	ids := make([]string, 0, pageSize)
	matchedByID := make(map[string]map[string]float64, pageSize)

	for len(ids) < pageSize {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}

		// Select the globally minimal head among the scans
		best := -1
		var bestRow *datastore.TagScanRow
		for i, s := range scanners {
			row, err := s.peek(ctx)
			if err != nil {
				return nil, err
			}
			if row == nil {
				continue
			}
			if best == -1 || mergeBefore(row, i, bestRow, best) {
				best = i
				bestRow = row
			}
		}
		if best == -1 {
			break
		}
		scanners[best].next()

		// Probe the other predicates: collect matched tags and detect an
		// earlier qualifying occurrence of the same media item
		matched := map[string]float64{predicates[best].TagName: bestRow.Confidence}
		earlier := false
		for j, p := range predicates {
			if j == best {
				continue
			}
			confidence, found, err := e.store.GetTagConfidence(ctx, bestRow.MediaID, p.TagName)
			if err != nil {
				return nil, err
			}
			if !found || confidence < p.MinConfidence {
				continue
			}
			matched[p.TagName] = confidence
			if confidence > bestRow.Confidence ||
				(confidence == bestRow.Confidence && j < best) {
				earlier = true
			}
		}
		if earlier {
			continue
		}

		ids = append(ids, bestRow.MediaID)
		matchedByID[bestRow.MediaID] = matched
	}

	totalScanned := 0
	more := false
	cursors := make([]scanCursor, len(scanners))
	for i, s := range scanners {
		totalScanned += s.scanned
		cursors[i] = s.cursorState()
		hasMore, err := s.hasMore(ctx)
		if err != nil {
			return nil, err
		}
		more = more || hasMore
	}
	e.recordScanned(totalScanned)

	items, err := e.summarize(ctx, ids, matchedByID)
	if err != nil {
		return nil, err
	}

	nextToken := ""
	if more {
		nextToken, err = encodeToken(&pageToken{
			Version:    tokenVersion,
			Combinator: string(CombinatorAny),
			FileType:   fileType,
			Predicates: tokenPredicates(predicates),
			Cursors:    cursors,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Result{Items: items, NextToken: nextToken}, nil
}

// listByFileType serves predicate-less queries that only carry a file type
// filter: a plain id-ordered listing with its own cursor.
func (e *Engine) listByFileType(ctx context.Context, fileType string, pageSize int, token *pageToken) (*Result, error) {
	afterID := ""
	if token != nil {
		if len(token.Cursors) != 1 {
			return nil, validationErr("invalid continuation token: cursor mismatch")
		}
		afterID = token.Cursors[0].MediaID
	}

	// Fetch one extra row to learn whether another page exists
	records, err := e.store.MediaByFileType(ctx, fileType, afterID, pageSize+1)
	if err != nil {
		return nil, err
	}

	more := len(records) > pageSize
	if more {
		records = records[:pageSize]
	}

	items := make([]Summary, 0, len(records))
	for i := range records {
		items = append(items, summaryFromRecord(&records[i], nil))
	}

	nextToken := ""
	if more {
		nextToken, err = encodeToken(&pageToken{
			Version:    tokenVersion,
			Combinator: string(CombinatorAll),
			FileType:   fileType,
			Cursors:    []scanCursor{{MediaID: records[len(records)-1].ID}},
		})
		if err != nil {
			return nil, err
		}
	}

	return &Result{Items: items, NextToken: nextToken}, nil
}

// summarize fetches the surviving candidate records in one batch and builds
// summaries in enumeration order. Candidates deleted since the scan are
// silently absent.
func (e *Engine) summarize(ctx context.Context, ids []string, matchedByID map[string]map[string]float64) ([]Summary, error) {
	if len(ids) == 0 {
		return []Summary{}, nil
	}

	records, err := e.store.GetMediaBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*datastore.Media, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	items := make([]Summary, 0, len(ids))
	for _, id := range ids {
		record, ok := byID[id]
		if !ok {
			continue
		}
		items = append(items, summaryFromRecord(record, matchedByID[id]))
	}
	return items, nil
}

func summaryFromRecord(record *datastore.Media, matched map[string]float64) Summary {
	thumbnailRef := ""
	if record.ThumbnailRef != nil {
		thumbnailRef = *record.ThumbnailRef
	}
	if matched == nil {
		matched = map[string]float64{}
	}
	return Summary{
		ID:           record.ID,
		FileType:     record.FileType,
		StorageRef:   record.StorageRef,
		ThumbnailRef: thumbnailRef,
		MatchedTags:  matched,
	}
}

// cancelled wraps a context error from a pure read.
func cancelled(err error) error {
	return errors.New(err).
		Component("query").
		Category(errors.CategoryCancellation).
		Build()
}

func (e *Engine) recordQuery(combinator Combinator, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	label := "all"
	if combinator == CombinatorAny {
		label = "any"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordQuery(label, status)
	if err == nil {
		e.metrics.RecordQueryDuration(label, time.Since(start).Seconds())
	}
}

func (e *Engine) recordScanned(count int) {
	if e.metrics != nil && count > 0 {
		e.metrics.RecordCandidatesScanned(count)
	}
}

// mergeBefore reports whether row a (from scan i) orders before row b (from
// scan j) in the merged enumeration.
func mergeBefore(a *datastore.TagScanRow, i int, b *datastore.TagScanRow, j int) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.MediaID != b.MediaID {
		return a.MediaID < b.MediaID
	}
	return i < j
}
