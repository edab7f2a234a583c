// Package partition implements the deterministic key→partition and
// partition→(owner, backups) assignment via rendezvous hashing over
// current members, so membership changes reassign only ~P/N partitions.
package partition

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// DefaultPartitionCount is a typical prime partition count for small clusters.
const DefaultPartitionCount = 271

// Partition is one slot's owner/backup assignment.
type Partition struct {
	OwnerNodeID  string
	BackupNodeIDs []string
}

// Map is an immutable snapshot of the partition assignment, published
// atomically as a versioned snapshot.
type Map struct {
	Version        uint64
	PartitionCount int
	Nodes          []string
	Partitions     []Partition // len == PartitionCount
}

// Change describes one partition whose owner/backup list differed between
// two successive maps.
type Change struct {
	PartitionIndex int
	OldOwner       string
	NewOwner       string
	OldBackups     []string
	NewBackups     []string
}

// RebalanceListener is notified after a rebalance; see Manager.Subscribe.
type RebalanceListener func(oldMap, newMap *Map, changes []Change)

// Manager owns the current partition map and recomputes it on membership
// change. Reads are lock-free via atomic snapshot load.
type Manager struct {
	partitionCount int
	replicas       int // R backups per partition

	current atomic.Pointer[Map]

	mu        sync.Mutex
	listeners []RebalanceListener
}

// NewManager constructs a Manager with no members and an empty map at
// version 0.
func NewManager(partitionCount, replicas int) *Manager {
	if partitionCount <= 0 {
		partitionCount = DefaultPartitionCount
	}
	m := &Manager{partitionCount: partitionCount, replicas: replicas}
	empty := &Map{Version: 0, PartitionCount: partitionCount, Partitions: make([]Partition, partitionCount)}
	m.current.Store(empty)
	return m
}

// Current returns the current partition map snapshot (lock-free read).
func (m *Manager) Current() *Map {
	return m.current.Load()
}

// Subscribe registers fn to be called after each successful Rebalance.
func (m *Manager) Subscribe(fn RebalanceListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// PartitionOf returns the deterministic partition index for key:
// hash(key) mod partitionCount; must match the client's hash family.
func (m *Manager) PartitionOf(key string) int {
	return int(xxhash.Sum64String(key) % uint64(m.partitionCount))
}

// rendezvousScore computes the weight for (node, partition) used to pick a
// stable owner ordering; highest score wins, ties broken by node ID.
func rendezvousScore(node string, partitionIdx int) uint64 {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(partitionIdx >> (8 * i))
	}
	h := xxhash.New()
	h.WriteString(node)
	h.Write(buf[:])
	return h.Sum64()
}

// Rebalance recomputes the partition map for the given member set and
// publishes it atomically, then notifies listeners with the set of changed
// partitions.
func (m *Manager) Rebalance(members []string) *Map {
	old := m.current.Load()

	newMap := &Map{
		Version:        old.Version + 1,
		PartitionCount: m.partitionCount,
		Nodes:          append([]string(nil), members...),
		Partitions:     make([]Partition, m.partitionCount),
	}

	if len(members) == 0 {
		m.current.Store(newMap)
		return newMap
	}

	sortedMembers := append([]string(nil), members...)
	sort.Strings(sortedMembers)

	for p := 0; p < m.partitionCount; p++ {
		type scored struct {
			node  string
			score uint64
		}
		ranked := make([]scored, 0, len(sortedMembers))
		for _, node := range sortedMembers {
			ranked = append(ranked, scored{node: node, score: rendezvousScore(node, p)})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].score != ranked[j].score {
				return ranked[i].score > ranked[j].score
			}
			return ranked[i].node < ranked[j].node
		})

		owner := ranked[0].node
		backupCount := m.replicas
		if backupCount > len(ranked)-1 {
			backupCount = len(ranked) - 1
		}
		backups := make([]string, 0, backupCount)
		for i := 1; i <= backupCount; i++ {
			backups = append(backups, ranked[i].node)
		}
		newMap.Partitions[p] = Partition{OwnerNodeID: owner, BackupNodeIDs: backups}
	}

	changes := diff(old, newMap)
	m.current.Store(newMap)

	m.mu.Lock()
	listeners := append([]RebalanceListener(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(old, newMap, changes)
	}
	return newMap
}

func diff(old, newMap *Map) []Change {
	var changes []Change
	for i := 0; i < newMap.PartitionCount; i++ {
		var oldP Partition
		if i < len(old.Partitions) {
			oldP = old.Partitions[i]
		}
		newP := newMap.Partitions[i]
		if oldP.OwnerNodeID != newP.OwnerNodeID || !equalStrings(oldP.BackupNodeIDs, newP.BackupNodeIDs) {
			changes = append(changes, Change{
				PartitionIndex: i,
				OldOwner:       oldP.OwnerNodeID,
				NewOwner:       newP.OwnerNodeID,
				OldBackups:     oldP.BackupNodeIDs,
				NewBackups:     newP.BackupNodeIDs,
			})
		}
	}
	return changes
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
