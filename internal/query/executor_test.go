package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	byKey map[string]Document
	order []string
}

func newFakeSource(docs ...Document) *fakeSource {
	s := &fakeSource{byKey: make(map[string]Document)}
	for _, d := range docs {
		s.byKey[d.Key] = d
		s.order = append(s.order, d.Key)
	}
	return s
}

func (s *fakeSource) Get(key string) (Document, bool) {
	d, ok := s.byKey[key]
	return d, ok
}

func (s *fakeSource) All() []Document {
	out := make([]Document, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

func doc(key string, fields map[string]any) Document {
	return Document{Key: key, Fields: fields}
}

func TestExecutePointLookupByPrimaryKey(t *testing.T) {
	src := newFakeSource(
		doc("alice", map[string]any{"name": "Alice"}),
		doc("bob", map[string]any{"name": "Bob"}),
	)
	req := Request{Predicate: Eq("key", "bob"), PrimaryKeyField: "key"}

	page, err := Execute(context.Background(), src, NewIndexSet(), req)
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, "bob", page.Documents[0].Key)
	assert.False(t, page.HasMore)
}

func TestExecuteFullScanAppliesResidualFilter(t *testing.T) {
	src := newFakeSource(
		doc("k1", map[string]any{"status": "active"}),
		doc("k2", map[string]any{"status": "inactive"}),
		doc("k3", map[string]any{"status": "active"}),
	)
	req := Request{Predicate: Eq("status", "active"), PrimaryKeyField: "key"}

	page, err := Execute(context.Background(), src, NewIndexSet(), req)
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	keys := []string{page.Documents[0].Key, page.Documents[1].Key}
	assert.ElementsMatch(t, []string{"k1", "k3"}, keys)
}

func TestExecuteSortsAndLimitsWithStableKeyTieBreak(t *testing.T) {
	src := newFakeSource(
		doc("b", map[string]any{"score": float64(1)}),
		doc("a", map[string]any{"score": float64(1)}),
		doc("c", map[string]any{"score": float64(2)}),
	)
	req := Request{
		Predicate:       Eq("score", float64(1)),
		PrimaryKeyField: "key",
	}
	// Use Or to admit both rows regardless of score so sort ordering is visible.
	req.Predicate = Or(Eq("score", float64(1)), Eq("score", float64(2)))
	req.Sort = []SortField{{Field: "score"}}
	req.Limit = 2

	page, err := Execute(context.Background(), src, NewIndexSet(), req)
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.Equal(t, "a", page.Documents[0].Key)
	assert.Equal(t, "b", page.Documents[1].Key)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.NextCursor)
}

func TestExecuteCursorContinuesFromPreviousPage(t *testing.T) {
	src := newFakeSource(
		doc("a", map[string]any{"n": float64(1)}),
		doc("b", map[string]any{"n": float64(2)}),
		doc("c", map[string]any{"n": float64(3)}),
	)
	pred := Or(Eq("n", float64(1)), Or(Eq("n", float64(2)), Eq("n", float64(3))))
	req := Request{Predicate: pred, PrimaryKeyField: "key", Sort: []SortField{{Field: "n"}}, Limit: 2}

	first, err := Execute(context.Background(), src, NewIndexSet(), req)
	require.NoError(t, err)
	require.Len(t, first.Documents, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)

	req.Cursor = first.NextCursor
	second, err := Execute(context.Background(), src, NewIndexSet(), req)
	require.NoError(t, err)
	require.Len(t, second.Documents, 1)
	assert.Equal(t, "c", second.Documents[0].Key)
	assert.False(t, second.HasMore)
}

func TestExecuteMismatchedCursorRestartsFromBeginning(t *testing.T) {
	src := newFakeSource(
		doc("a", map[string]any{"n": float64(1)}),
		doc("b", map[string]any{"n": float64(2)}),
	)
	pred := Or(Eq("n", float64(1)), Eq("n", float64(2)))
	req := Request{Predicate: pred, PrimaryKeyField: "key", Sort: []SortField{{Field: "n"}}, Limit: 10}

	otherSig := predicateSignature(Eq("n", float64(99)))
	stale := Cursor{PredicateHash: otherSig, LastKey: "a", LastSortValues: []any{float64(1)}}
	token, err := stale.Encode()
	require.NoError(t, err)
	req.Cursor = token

	page, err := Execute(context.Background(), src, NewIndexSet(), req)
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.Equal(t, "a", page.Documents[0].Key)
}

func TestExecuteMultiPointLookupSkipsMissingKeys(t *testing.T) {
	src := newFakeSource(doc("a", map[string]any{"n": float64(1)}))
	req := Request{
		Predicate:       In("key", []any{"a", "missing"}),
		PrimaryKeyField: "key",
	}

	page, err := Execute(context.Background(), src, NewIndexSet(), req)
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, "a", page.Documents[0].Key)
}
