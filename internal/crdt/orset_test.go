package crdt

import (
	"testing"

	"github.com/maxiokv/dkvd/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestORSetConvergence verifies that two
// replicas that exchange every update converge on records and tombstones.
func TestORSetConvergence(t *testing.T) {
	a := NewORSetMap("tags", 4, 2)
	b := NewORSetMap("tags", 4, 2)

	require.NoError(t, a.OrAdd("doc1", []byte("red"), ts(10, 0, "A"), "tag-a1"))
	require.NoError(t, b.OrAdd("doc1", []byte("blue"), ts(11, 0, "B"), "tag-b1"))

	// exchange: merge each side's records+tombstones into the other
	_, err := a.MergeKey("doc1", recordSlice(b.GetRecordsMap("doc1")), b.GetTombstones())
	require.NoError(t, err)
	_, err = b.MergeKey("doc1", recordSlice(a.GetRecordsMap("doc1")), a.GetTombstones())
	require.NoError(t, err)

	assert.ElementsMatch(t, a.OrGet("doc1"), b.OrGet("doc1"))
	assert.Len(t, a.OrGet("doc1"), 2)
	assert.Equal(t, a.MerkleRoot(), b.MerkleRoot())
}

func TestORSetAddWinsUnlessTombstoned(t *testing.T) {
	m := NewORSetMap("tags", 4, 2)
	require.NoError(t, m.OrRemove("doc1", "tag-1", ts(5, 0, "A")))
	require.NoError(t, m.OrAdd("doc1", []byte("late"), ts(1, 0, "A"), "tag-1"))
	assert.Empty(t, m.OrGet("doc1"))
}

func TestORSetRemoveThenMergeConverges(t *testing.T) {
	a := NewORSetMap("tags", 4, 2)
	b := NewORSetMap("tags", 4, 2)

	require.NoError(t, a.OrAdd("doc1", []byte("v"), ts(1, 0, "A"), "tag-1"))
	_, err := b.MergeKey("doc1", recordSlice(a.GetRecordsMap("doc1")), a.GetTombstones())
	require.NoError(t, err)
	assert.Len(t, b.OrGet("doc1"), 1)

	require.NoError(t, a.OrRemove("doc1", "tag-1", ts(2, 0, "A")))
	_, err = b.MergeKey("doc1", recordSlice(a.GetRecordsMap("doc1")), a.GetTombstones())
	require.NoError(t, err)

	assert.Empty(t, a.OrGet("doc1"))
	assert.Empty(t, b.OrGet("doc1"))
	assert.Equal(t, a.MerkleRoot(), b.MerkleRoot())
}

func TestORSetPruneRemovesOldTombstonesOnly(t *testing.T) {
	m := NewORSetMap("tags", 4, 2)
	require.NoError(t, m.OrAdd("doc1", []byte("v"), ts(1, 0, "A"), "tag-1"))
	require.NoError(t, m.OrRemove("doc1", "tag-1", ts(2, 0, "A")))

	pruned := m.Prune(ts(1, 0, "A"))
	assert.Empty(t, pruned)
	_, stillTombstoned := m.GetTombstones()["tag-1"]
	assert.True(t, stillTombstoned)

	pruned = m.Prune(ts(10, 0, "A"))
	assert.Contains(t, pruned, "tag-1")
}

func recordSlice(m map[string]ORRecord) []ORRecord {
	out := make([]ORRecord, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}

func TestORSetMergeCounters(t *testing.T) {
	a := NewORSetMap("tags", 4, 2)
	counters, err := a.MergeKey("doc1", []ORRecord{
		{Value: []byte("v1"), Timestamp: ts(1, 0, "A"), Tag: "t1"},
		{Value: []byte("v2"), Timestamp: ts(2, 0, "A"), Tag: "t2"},
	}, map[string]clock.Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, 2, counters.Added)
	assert.Equal(t, 0, counters.Updated)

	counters, err = a.MergeKey("doc1", []ORRecord{
		{Value: []byte("v1-new"), Timestamp: ts(5, 0, "A"), Tag: "t1"},
	}, map[string]clock.Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, 0, counters.Added)
	assert.Equal(t, 1, counters.Updated)
}

func TestORSetAllKeysIncludesLiveKeysOnly(t *testing.T) {
	m := NewORSetMap("tags", 4, 2)
	require.NoError(t, m.OrAdd("doc1", []byte("red"), ts(1, 0, "A"), "tag-a"))
	require.NoError(t, m.OrAdd("doc2", []byte("blue"), ts(2, 0, "A"), "tag-b"))

	assert.ElementsMatch(t, []string{"doc1", "doc2"}, m.AllKeys())

	require.NoError(t, m.OrRemove("doc2", "tag-b", ts(3, 0, "A")))
	assert.ElementsMatch(t, []string{"doc1"}, m.AllKeys())
}
