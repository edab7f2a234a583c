package query

import (
	"context"
	"sort"

	"github.com/maxiokv/dkvd/internal/scheduler"
)

// Document is one row a query operates over: its primary key plus the
// field values extracted from its CRDT value for predicate evaluation.
type Document struct {
	Key    string
	Fields map[string]any
}

// Source is the data access the executor needs from a CRDT map: point
// lookups for PointLookup/MultiPointLookup plans, and a full scan for
// FullScan/IndexScan-with-residual plans.
type Source interface {
	Get(key string) (Document, bool)
	All() []Document
}

// SortField is one key of a query's sort spec.
type SortField struct {
	Field string
	Desc  bool
}

// Request is one query's full parameters.
type Request struct {
	Predicate       Predicate
	Sort            []SortField
	Limit           int
	Cursor          string
	PrimaryKeyField string
}

// Page is one page of query results.
type Page struct {
	Documents  []Document
	NextCursor string
	HasMore    bool
}

// Execute runs req synchronously to completion on the calling goroutine.
// Full scans run as a scanTasklet driven by scheduler.RunSync on that same
// goroutine; the scan is not submitted to a Scheduler and does not share
// tick time with other tasklets or queries.
func Execute(ctx context.Context, source Source, indexes *IndexSet, req Request) (Page, error) {
	if req.PrimaryKeyField == "" {
		req.PrimaryKeyField = "key"
	}
	plan := Choose(req.Predicate, indexes, req.PrimaryKeyField)

	var candidates []Document
	switch plan.Kind {
	case PlanPointLookup, PlanMultiPointLookup:
		for _, k := range plan.PrimaryKeys {
			if d, ok := source.Get(k); ok {
				candidates = append(candidates, d)
			}
		}
	default:
		t := &scanTasklet{source: source, predicate: req.Predicate, needsFilter: plan.NeedsFilter}
		scheduler.RunSync(ctx, t)
		if t.err != nil {
			return Page{}, t.err
		}
		candidates = t.matched
	}

	sig := predicateSignature(req.Predicate)
	cursor, cursorOK := DecodeCursor(req.Cursor, sig)

	sortStable(candidates, req.Sort, req.PrimaryKeyField)

	start := 0
	if cursorOK {
		start = findCursorPosition(candidates, cursor, req.Sort, req.PrimaryKeyField)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = len(candidates) - start
	}

	end := start + limit
	hasMore := end < len(candidates)
	if end > len(candidates) {
		end = len(candidates)
	}
	if start > len(candidates) {
		start = len(candidates)
	}
	page := candidates[start:end]

	result := Page{Documents: page, HasMore: hasMore}
	if hasMore && len(page) > 0 {
		last := page[len(page)-1]
		next := Cursor{
			PredicateHash:  sig,
			LastSortValues: sortValuesOf(last, req.Sort),
			LastKey:        last.Key,
			Direction:      DirectionForward,
		}
		token, err := next.Encode()
		if err != nil {
			return Page{}, err
		}
		result.NextCursor = token
	}
	return result, nil
}

// scanTasklet runs a full-scan-and-filter as a cooperative tasklet,
// filtering at most scanChunkSize documents per Run call.
type scanTasklet struct {
	source      Source
	predicate   Predicate
	needsFilter bool

	started bool
	all     []Document
	idx     int
	matched []Document
	err     error
}

const scanChunkSize = 256

func (t *scanTasklet) Run(ctx context.Context) scheduler.Result {
	if !t.started {
		t.all = t.source.All()
		t.started = true
	}
	end := t.idx + scanChunkSize
	if end > len(t.all) {
		end = len(t.all)
	}
	for ; t.idx < end; t.idx++ {
		d := t.all[t.idx]
		if !t.needsFilter || t.predicate.Evaluate(d.Fields) {
			t.matched = append(t.matched, d)
		}
	}
	if t.idx >= len(t.all) {
		return scheduler.Done
	}
	return scheduler.MadeProgress
}

func (t *scanTasklet) OnCancel() {}

func sortStable(docs []Document, fields []SortField, primaryKeyField string) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			vi, vj := docs[i].Fields[f.Field], docs[j].Fields[f.Field]
			c := compareValues(vi, vj)
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].Key < docs[j].Key
	})
}

func sortValuesOf(d Document, fields []SortField) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, d.Fields[f.Field])
	}
	return out
}

// findCursorPosition returns the index of the first document strictly after
// the cursor's last-seen row in the established sort order.
func findCursorPosition(docs []Document, c Cursor, fields []SortField, primaryKeyField string) int {
	for i, d := range docs {
		if isAfterCursor(d, c, fields) {
			return i
		}
	}
	return len(docs)
}

func isAfterCursor(d Document, c Cursor, fields []SortField) bool {
	vals := sortValuesOf(d, fields)
	for i := range fields {
		if i >= len(c.LastSortValues) {
			break
		}
		cmp := compareValues(vals[i], c.LastSortValues[i])
		if cmp != 0 {
			if fields[i].Desc {
				return cmp < 0
			}
			return cmp > 0
		}
	}
	return d.Key > c.LastKey
}
