package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualContentEqualRoot(t *testing.T) {
	a := NewTree(4, 2)
	b := NewTree(4, 2)

	entries := map[string][]byte{
		"k1": EntryHash("k1", []byte("v1")),
		"k2": EntryHash("k2", []byte("v2")),
		"k3": EntryHash("k3", []byte("v3")),
	}
	for k, h := range entries {
		a.Upsert(k, h)
		b.Upsert(k, h)
	}

	assert.Equal(t, a.Root(), b.Root())
}

func TestDifferentContentDifferentRoot(t *testing.T) {
	a := NewTree(4, 2)
	b := NewTree(4, 2)

	a.Upsert("k1", EntryHash("k1", []byte("v1")))
	b.Upsert("k1", EntryHash("k1", []byte("v2")))

	assert.NotEqual(t, a.Root(), b.Root())
}

func TestRemoveRestoresEmptyRoot(t *testing.T) {
	empty := NewTree(4, 2)
	tr := NewTree(4, 2)

	tr.Upsert("k1", EntryHash("k1", []byte("v1")))
	require.NotEqual(t, empty.Root(), tr.Root())

	tr.Remove("k1")
	assert.Equal(t, empty.Root(), tr.Root())
}

func TestGetBucketLeafVsInternal(t *testing.T) {
	tr := NewTree(4, 2)
	tr.Upsert("some-key", EntryHash("some-key", []byte("v")))

	rootHash, children, leafKeys := tr.GetBucket(nil)
	assert.Equal(t, tr.Root(), rootHash)
	assert.Len(t, children, 4)
	assert.Nil(t, leafKeys)

	// walk down to the bucket holding "some-key"
	idx := tr.BucketIndex("some-key")
	path := []uint8{uint8(idx / 4), uint8(idx % 4)}
	_, childHashes, keys := tr.GetBucket(path)
	assert.Nil(t, childHashes)
	assert.Contains(t, keys, "some-key")
}

func TestAllKeysReturnsEveryInsertedKey(t *testing.T) {
	tr := NewTree(4, 2)
	inserted := []string{"k1", "k2", "k3"}
	for _, k := range inserted {
		tr.Upsert(k, EntryHash(k, []byte("v")))
	}

	assert.ElementsMatch(t, inserted, tr.AllKeys())

	tr.Remove("k2")
	assert.ElementsMatch(t, []string{"k1", "k3"}, tr.AllKeys())
}

func TestKeysInBucketSorted(t *testing.T) {
	tr := NewTree(2, 1)
	for _, k := range []string{"zeta", "alpha", "mid"} {
		idxBucket := tr.BucketIndex(k)
		_ = idxBucket
		tr.Upsert(k, EntryHash(k, []byte("x")))
	}
	// find a bucket with more than one key by checking both buckets
	for i := 0; i < 2; i++ {
		keys := tr.KeysInBucket([]uint8{uint8(i)})
		for j := 1; j < len(keys); j++ {
			assert.LessOrEqual(t, keys[j-1], keys[j])
		}
	}
}
