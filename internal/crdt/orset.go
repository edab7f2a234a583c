package crdt

import (
	"sort"
	"sync"

	"github.com/maxiokv/dkvd/internal/apperrors"
	"github.com/maxiokv/dkvd/internal/clock"
	"github.com/maxiokv/dkvd/internal/merkle"
)

// ORRecord is a single tagged add in an OR-set key.
type ORRecord struct {
	Value     []byte
	Timestamp clock.Timestamp
	Tag       string
}

func encodeORRecord(r ORRecord) []byte {
	buf := make([]byte, 0, len(r.Value)+len(r.Tag)+1)
	buf = append(buf, r.Value...)
	buf = append(buf, 0)
	buf = append(buf, r.Tag...)
	return buf
}

// MergeCounters reports how many records an OR-set merge added or updated,
// feeding metrics.
type MergeCounters struct {
	Added   int
	Updated int
}

// ORSetMap is an observed-remove set CRDT map.
type ORSetMap struct {
	mu        sync.RWMutex
	name      string
	maxKeyLen int
	// records[key][tag] = record
	records map[string]map[string]ORRecord
	// tombstones[tag] = removal timestamp, used for prune cutoff and to
	// suppress tombstoned tags from orGet/mergeKey.
	tombstones map[string]clock.Timestamp
	tree       *merkle.Tree
}

// ORSetOption configures an ORSetMap at construction.
type ORSetOption func(*ORSetMap)

// WithORMaxKeyLength overrides DefaultMaxKeyLength for this map.
func WithORMaxKeyLength(n int) ORSetOption { return func(m *ORSetMap) { m.maxKeyLen = n } }

// NewORSetMap constructs an empty OR-set map over a Merkle tree.
func NewORSetMap(name string, fanout, depth int, opts ...ORSetOption) *ORSetMap {
	m := &ORSetMap{
		name:       name,
		maxKeyLen:  DefaultMaxKeyLength,
		records:    make(map[string]map[string]ORRecord),
		tombstones: make(map[string]clock.Timestamp),
		tree:       merkle.NewTree(fanout, depth),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the map's name.
func (m *ORSetMap) Name() string { return m.name }

func (m *ORSetMap) checkKey(key string) error {
	if len(key) == 0 || len(key) > m.maxKeyLen {
		return apperrors.ErrInvalidKey
	}
	return nil
}

// recomputeKeyBucketLocked recomputes the Merkle entry hash for key from its
// current (non-tombstoned) record set; the bucket groups all of a key's
// tagged records into one entry hash so OrAdd/OrRemove each touch only one
// Merkle leaf update.
func (m *ORSetMap) recomputeKeyBucketLocked(key string) {
	tags := m.records[key]
	if len(tags) == 0 {
		m.tree.Remove(key)
		return
	}
	sortedTags := make([]string, 0, len(tags))
	for tag := range tags {
		sortedTags = append(sortedTags, tag)
	}
	sort.Strings(sortedTags)

	encoded := make([]byte, 0, 64)
	for _, tag := range sortedTags {
		rec := tags[tag]
		encoded = append(encoded, encodeORRecord(rec)...)
		encoded = append(encoded, '|')
	}
	m.tree.Upsert(key, merkle.EntryHash(key, encoded))
}

// OrAdd adds value under a fresh, caller-supplied globally unique tag.
// Add wins unless the tag is already in the tombstone set.
func (m *ORSetMap) OrAdd(key string, value []byte, ts clock.Timestamp, tag string) error {
	if err := m.checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, tombstoned := m.tombstones[tag]; tombstoned {
		return nil
	}
	if m.records[key] == nil {
		m.records[key] = make(map[string]ORRecord)
	}
	m.records[key][tag] = ORRecord{Value: value, Timestamp: ts, Tag: tag}
	m.recomputeKeyBucketLocked(key)
	return nil
}

// OrRemove tombstones tag, removing it from the visible set.
func (m *ORSetMap) OrRemove(key string, tag string, ts clock.Timestamp) error {
	if err := m.checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tombstones[tag] = ts
	if recs, ok := m.records[key]; ok {
		delete(recs, tag)
		if len(recs) == 0 {
			delete(m.records, key)
		}
	}
	m.recomputeKeyBucketLocked(key)
	return nil
}

// OrGet returns the currently visible values at key (tombstoned tags
// excluded).
func (m *ORSetMap) OrGet(key string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[key]
	out := make([][]byte, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Value)
	}
	return out
}

// GetRecordsMap returns the raw tag->record map for key, for replication.
func (m *ORSetMap) GetRecordsMap(key string) map[string]ORRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ORRecord, len(m.records[key]))
	for tag, rec := range m.records[key] {
		out[tag] = rec
	}
	return out
}

// GetTombstones returns a copy of the tombstone set (tag -> removal ts).
func (m *ORSetMap) GetTombstones() map[string]clock.Timestamp {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]clock.Timestamp, len(m.tombstones))
	for tag, ts := range m.tombstones {
		out[tag] = ts
	}
	return out
}

// MergeKey unions incomingRecords into key's record set and
// incomingTombstones into the tombstone set, then removes any tag that is
// tombstoned (union first, difference second).
func (m *ORSetMap) MergeKey(key string, incomingRecords []ORRecord, incomingTombstones map[string]clock.Timestamp) (MergeCounters, error) {
	if err := m.checkKey(key); err != nil {
		return MergeCounters{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var counters MergeCounters
	for tag, ts := range incomingTombstones {
		if existing, ok := m.tombstones[tag]; !ok || existing.Less(ts) {
			m.tombstones[tag] = ts
		}
	}

	if m.records[key] == nil && len(incomingRecords) > 0 {
		m.records[key] = make(map[string]ORRecord)
	}
	for _, incoming := range incomingRecords {
		if _, tombstoned := m.tombstones[incoming.Tag]; tombstoned {
			continue
		}
		if existing, ok := m.records[key][incoming.Tag]; ok {
			if existing.Timestamp.Less(incoming.Timestamp) {
				m.records[key][incoming.Tag] = incoming
				counters.Updated++
			}
			continue
		}
		m.records[key][incoming.Tag] = incoming
		counters.Added++
	}

	// Drop any now-tombstoned tags that survived from a prior merge.
	if recs, ok := m.records[key]; ok {
		for tag := range recs {
			if _, tombstoned := m.tombstones[tag]; tombstoned {
				delete(recs, tag)
			}
		}
		if len(recs) == 0 {
			delete(m.records, key)
		}
	}

	m.recomputeKeyBucketLocked(key)
	return counters, nil
}

// Prune physically removes tombstone markers (and any lingering tag entries
// they still shadow) with timestamp < cutoff.
// Live (non-tombstoned) records are never pruned, matching the LWW map's
// read-side-expiry/physical-delete split.
func (m *ORSetMap) Prune(cutoff clock.Timestamp) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prunedTags []string
	for tag, ts := range m.tombstones {
		if ts.Less(cutoff) {
			delete(m.tombstones, tag)
			prunedTags = append(prunedTags, tag)
		}
	}
	return prunedTags
}

// MerkleRoot returns the current Merkle root hash.
func (m *ORSetMap) MerkleRoot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Root()
}

// GetBucket exposes the Merkle tree's bucket contents for anti-entropy walks.
func (m *ORSetMap) GetBucket(path []uint8) (hash []byte, childHashes [][]byte, leafKeys []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.GetBucket(path)
}

// KeysInBucket returns the keys in the leaf bucket at path.
func (m *ORSetMap) KeysInBucket(path []uint8) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.KeysInBucket(path)
}

// AllKeys returns every key currently tracked (with at least one live tag;
// keys left with only tombstones are dropped). Used by anti-entropy handoff to enumerate a partition's
// full contents.
func (m *ORSetMap) AllKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.AllKeys()
}
