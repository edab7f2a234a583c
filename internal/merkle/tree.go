// Package merkle implements the fixed-fanout Merkle tree used for
// anti-entropy diffing over CRDT map contents.
//
// The leaf bucket for key k is hash(k) mod B^D. Each bucket stores
// H = hashOfSortedEntryHashes; internal nodes store H = hash(concat(child
// hashes)). Root hash is a constant-time read; every insert/update/delete
// recomputes the touched bucket and its O(D) ancestors.
package merkle

import (
	"crypto/sha256"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// HashKey is the non-cryptographic hash used to place a key into a leaf
// bucket; the partition package shares the same function family so
// client-observable bucket/partition placement stays consistent.
func HashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

// EntryHash computes the entry hash for a (key, encoded-record) pair, as
// hash(key ∥ encode(record)).
func EntryHash(key string, encodedRecord []byte) []byte {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write(encodedRecord)
	return h.Sum(nil)
}

func hashConcat(parts [][]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Tree is a fixed-fanout, fixed-depth Merkle tree over a CRDT map's records.
// Not safe for concurrent use without external synchronization; CRDT maps
// serialize mutation through their owning executor stripe, so
// the tree is mutated only on that stripe.
type Tree struct {
	fanout int
	depth  int
	// levelHashes[l] has fanout^l entries for l in [0, depth]; levelHashes[0]
	// is the single root hash.
	levelHashes [][][]byte
	// leafEntries[bucket] maps key -> entry hash, used to recompute the
	// leaf's bucket hash from hashOfSortedEntryHashes.
	leafEntries []map[string][]byte
}

// NewTree builds an empty tree. depth must satisfy fanout^depth >=
// expectedKeys/leafFill; callers choose depth, this package
// only enforces fanout/depth are positive.
func NewTree(fanout, depth int) *Tree {
	if fanout < 1 {
		fanout = 1
	}
	if depth < 0 {
		depth = 0
	}
	t := &Tree{fanout: fanout, depth: depth}
	t.levelHashes = make([][][]byte, depth+1)
	width := 1
	for l := 0; l <= depth; l++ {
		t.levelHashes[l] = make([][]byte, width)
		for i := range t.levelHashes[l] {
			t.levelHashes[l][i] = emptyHash
		}
		width *= fanout
	}
	for l := depth - 1; l >= 0; l-- {
		for i := range t.levelHashes[l] {
			t.levelHashes[l][i] = hashConcat(t.levelHashes[l+1][i*fanout : (i+1)*fanout])
		}
	}
	leafCount := 1
	for i := 0; i < depth; i++ {
		leafCount *= fanout
	}
	t.leafEntries = make([]map[string][]byte, leafCount)
	for i := range t.leafEntries {
		t.leafEntries[i] = make(map[string][]byte)
	}
	return t
}

var emptyHash = sha256.New().Sum(nil)

// Fanout returns the tree's configured fanout B.
func (t *Tree) Fanout() int { return t.fanout }

// Depth returns the tree's configured depth D.
func (t *Tree) Depth() int { return t.depth }

// BucketIndex returns the leaf bucket index for key, hash(k) mod B^D.
func (t *Tree) BucketIndex(key string) int {
	leafCount := len(t.leafEntries)
	if leafCount == 0 {
		return 0
	}
	return int(HashKey(key) % uint64(leafCount))
}

// Upsert records (or replaces) the entry hash for key and recomputes the
// touched leaf bucket plus its O(D) ancestors.
func (t *Tree) Upsert(key string, entryHash []byte) {
	idx := t.BucketIndex(key)
	cp := make([]byte, len(entryHash))
	copy(cp, entryHash)
	t.leafEntries[idx][key] = cp
	t.recomputeFromLeaf(idx)
}

// Remove deletes key's entry from its bucket and recomputes ancestors.
// A no-op if the key was never inserted.
func (t *Tree) Remove(key string) {
	idx := t.BucketIndex(key)
	if _, ok := t.leafEntries[idx][key]; !ok {
		return
	}
	delete(t.leafEntries[idx], key)
	t.recomputeFromLeaf(idx)
}

func (t *Tree) recomputeFromLeaf(leafIdx int) {
	entries := t.leafEntries[leafIdx]
	hashes := make([][]byte, 0, len(entries))
	for _, h := range entries {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return string(hashes[i]) < string(hashes[j]) })
	t.levelHashes[t.depth][leafIdx] = hashConcat(hashes)

	idx := leafIdx
	for l := t.depth; l > 0; l-- {
		parentIdx := idx / t.fanout
		childStart := parentIdx * t.fanout
		children := t.levelHashes[l][childStart : childStart+t.fanout]
		t.levelHashes[l-1][parentIdx] = hashConcat(children)
		idx = parentIdx
	}
}

// Root returns the current root hash; constant time.
func (t *Tree) Root() []byte {
	return t.levelHashes[0][0]
}

// NodeHash returns the hash stored at path (a sequence of child indices from
// the root). len(path) must be <= depth.
func (t *Tree) NodeHash(path []uint8) []byte {
	level := len(path)
	if level > t.depth {
		return nil
	}
	idx := 0
	for _, p := range path {
		idx = idx*t.fanout + int(p)
	}
	return t.levelHashes[level][idx]
}

// ChildHashes returns the hashes of all fanout children of the node at path.
// path must identify a node at depth < D (an internal node).
func (t *Tree) ChildHashes(path []uint8) [][]byte {
	if len(path) >= t.depth {
		return nil
	}
	idx := 0
	for _, p := range path {
		idx = idx*t.fanout + int(p)
	}
	childLevel := len(path) + 1
	start := idx * t.fanout
	out := make([][]byte, t.fanout)
	copy(out, t.levelHashes[childLevel][start:start+t.fanout])
	return out
}

// IsLeafPath reports whether path identifies a leaf bucket.
func (t *Tree) IsLeafPath(path []uint8) bool { return len(path) == t.depth }

// KeysInBucket returns the keys currently stored in the leaf bucket
// identified by path (must satisfy IsLeafPath).
func (t *Tree) KeysInBucket(path []uint8) []string {
	if !t.IsLeafPath(path) {
		return nil
	}
	idx := 0
	for _, p := range path {
		idx = idx*t.fanout + int(p)
	}
	entries := t.leafEntries[idx]
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AllKeys returns every key currently tracked by the tree, across all leaf
// buckets, in no particular order. Used by anti-entropy handoff to enumerate
// a map's full contents rather than walking bucket-by-bucket.
func (t *Tree) AllKeys() []string {
	var keys []string
	for _, entries := range t.leafEntries {
		for k := range entries {
			keys = append(keys, k)
		}
	}
	return keys
}

// GetBucket returns the node hash and its child/leaf contents depending on
// whether path addresses an internal node or a leaf, matching the two
// reply shapes of the sync protocol: child hashes for
// internal nodes, key list for leaves.
func (t *Tree) GetBucket(path []uint8) (hash []byte, childHashes [][]byte, leafKeys []string) {
	hash = t.NodeHash(path)
	if t.IsLeafPath(path) {
		leafKeys = t.KeysInBucket(path)
		return
	}
	childHashes = t.ChildHashes(path)
	return
}
