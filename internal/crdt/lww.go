// Package crdt implements the two CRDT map types: the last-writer-wins
// map (per-key tombstoned record) and the observed-remove
// set map (per-key multi-value with unique tags). Both own a Merkle tree
// (internal/merkle) kept incrementally in sync with their record set.
package crdt

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/maxiokv/dkvd/internal/apperrors"
	"github.com/maxiokv/dkvd/internal/clock"
	"github.com/maxiokv/dkvd/internal/merkle"
)

// DefaultMaxKeyLength bounds key length; set(k,...) with a longer key
// returns apperrors.ErrInvalidKey.
const DefaultMaxKeyLength = 1024

// LWWRecord is the per-key record. Value == nil encodes a tombstone.
type LWWRecord struct {
	Value     []byte
	Timestamp clock.Timestamp
	TTLMs     uint32 // 0 = no TTL
}

// Tombstone reports whether this record represents a deletion.
func (r LWWRecord) Tombstone() bool { return r.Value == nil }

func encodeLWWRecord(r LWWRecord) []byte {
	buf := make([]byte, 0, len(r.Value)+24+len(r.Timestamp.NodeID))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], r.TTLMs)
	buf = append(buf, tmp[:]...)
	if r.Value == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = append(buf, r.Value...)
	}
	return buf
}

// LWWMap is a last-writer-wins CRDT map.
type LWWMap struct {
	mu          sync.RWMutex
	name        string
	maxKeyLen   int
	records     map[string]LWWRecord
	tree        *merkle.Tree
	wallNowFunc func() time.Time
}

// LWWOption configures an LWWMap at construction.
type LWWOption func(*LWWMap)

// WithMaxKeyLength overrides DefaultMaxKeyLength.
func WithMaxKeyLength(n int) LWWOption { return func(m *LWWMap) { m.maxKeyLen = n } }

// WithWallClock overrides time.Now for TTL expiry checks in tests.
func WithWallClock(fn func() time.Time) LWWOption { return func(m *LWWMap) { m.wallNowFunc = fn } }

// NewLWWMap constructs an empty LWW map backed by a Merkle tree of the given
// fanout/depth; the caller picks depth from the expected key count.
func NewLWWMap(name string, fanout, depth int, opts ...LWWOption) *LWWMap {
	m := &LWWMap{
		name:        name,
		maxKeyLen:   DefaultMaxKeyLength,
		records:     make(map[string]LWWRecord),
		tree:        merkle.NewTree(fanout, depth),
		wallNowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the map's name.
func (m *LWWMap) Name() string { return m.name }

func (m *LWWMap) checkKey(key string) error {
	if len(key) == 0 || len(key) > m.maxKeyLen {
		return apperrors.ErrInvalidKey
	}
	return nil
}

func (m *LWWMap) upsertLocked(key string, rec LWWRecord) {
	m.records[key] = rec
	m.tree.Upsert(key, merkle.EntryHash(key, encodeLWWRecord(rec)))
}

// Set writes value at key with timestamp ts. If ts is zero a caller bug is
// assumed; pass the HLC-issued timestamp from the session pipeline.
func (m *LWWMap) Set(key string, value []byte, ts clock.Timestamp, ttlMs uint32) error {
	if err := m.checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeLocked(key, LWWRecord{Value: value, Timestamp: ts, TTLMs: ttlMs})
	return nil
}

// Remove tombstones key at timestamp ts.
func (m *LWWMap) Remove(key string, ts clock.Timestamp) error {
	if err := m.checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeLocked(key, LWWRecord{Value: nil, Timestamp: ts})
	return nil
}

// Get returns the visible value at key: nil and false if absent, tombstoned,
// or TTL-expired (read-side expiry).
func (m *LWWMap) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()
	if !ok || rec.Tombstone() {
		return nil, false
	}
	if rec.TTLMs > 0 {
		expiresAt := time.UnixMilli(int64(rec.Timestamp.Physical)).Add(time.Duration(rec.TTLMs) * time.Millisecond)
		if m.wallNowFunc().After(expiresAt) {
			return nil, false
		}
	}
	return rec.Value, true
}

// Merge applies an incoming record for key, keeping whichever of the local
// and incoming records has the greater HLC timestamp.
// Returns true if the incoming record won (state changed).
func (m *LWWMap) Merge(key string, incoming LWWRecord) (bool, error) {
	if err := m.checkKey(key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mergeLocked(key, incoming), nil
}

func (m *LWWMap) mergeLocked(key string, incoming LWWRecord) bool {
	local, ok := m.records[key]
	if !ok || local.Timestamp.Less(incoming.Timestamp) {
		m.upsertLocked(key, incoming)
		return true
	}
	return false
}

// GetRecord returns the raw record (including tombstones) for replication
// and anti-entropy callers that need the timestamp, not just the value.
func (m *LWWMap) GetRecord(key string) (LWWRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok
}

// Prune deletes tombstones older than cutoff and returns the pruned keys.
// Non-tombstone records are never pruned here; they are retained until
// superseded or removed.
func (m *LWWMap) Prune(cutoff clock.Timestamp) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pruned []string
	for k, rec := range m.records {
		if rec.Tombstone() && rec.Timestamp.Less(cutoff) {
			delete(m.records, k)
			m.tree.Remove(k)
			pruned = append(pruned, k)
		}
	}
	return pruned
}

// MerkleRoot returns the current Merkle root hash (constant time).
func (m *LWWMap) MerkleRoot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Root()
}

// GetBucket exposes the Merkle tree's bucket contents for anti-entropy walks.
func (m *LWWMap) GetBucket(path []uint8) (hash []byte, childHashes [][]byte, leafKeys []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.GetBucket(path)
}

// KeysInBucket returns the keys in the leaf bucket at path.
func (m *LWWMap) KeysInBucket(path []uint8) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.KeysInBucket(path)
}

// AllKeys returns every key currently tracked, tombstones included. Used by
// anti-entropy handoff to enumerate a partition's full contents.
func (m *LWWMap) AllKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.AllKeys()
}

// Len returns the number of tracked records, tombstones included.
func (m *LWWMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Snapshot returns a shallow copy of all visible (non-tombstone,
// non-expired) records, for query scans (internal/query).
func (m *LWWMap) Snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.records))
	now := m.wallNowFunc()
	for k, rec := range m.records {
		if rec.Tombstone() {
			continue
		}
		if rec.TTLMs > 0 {
			expiresAt := time.UnixMilli(int64(rec.Timestamp.Physical)).Add(time.Duration(rec.TTLMs) * time.Millisecond)
			if now.After(expiresAt) {
				continue
			}
		}
		out[k] = rec.Value
	}
	return out
}
