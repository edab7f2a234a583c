// Package antientropy implements the Merkle-tree walk that reconciles two
// replicas of the same CRDT map: compare roots, recurse into buckets whose
// hashes differ, and merge the entries found to differ at the leaves.
// Convergence does not depend on delivery order or retry count, since every
// merge is idempotent.
package antientropy

import (
	"bytes"
	"context"

	"github.com/maxiokv/dkvd/internal/crdt"
)

// Stats summarizes one sync pass.
type Stats struct {
	KeysCompared int
	KeysMerged   int
	BucketsWalked int
}

// SyncLWW reconciles local against remote, pulling any entries remote has
// that differ from local's view, and returns how much work was done. It is
// symmetric: running it in both directions converges both replicas.
func SyncLWW(ctx context.Context, local, remote *crdt.LWWMap) (Stats, error) {
	var stats Stats
	if err := walkLWW(ctx, local, remote, nil, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func walkLWW(ctx context.Context, local, remote *crdt.LWWMap, path []uint8, stats *Stats) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	localHash, localChildren, _ := local.GetBucket(path)
	remoteHash, remoteChildren, _ := remote.GetBucket(path)
	stats.BucketsWalked++

	if bytes.Equal(localHash, remoteHash) {
		return nil
	}

	isLeaf := len(localChildren) == 0 && len(remoteChildren) == 0
	if !isLeaf {
		fanout := len(remoteChildren)
		if len(localChildren) > fanout {
			fanout = len(localChildren)
		}
		for i := 0; i < fanout; i++ {
			childPath := append(append([]uint8(nil), path...), uint8(i))
			if err := walkLWW(ctx, local, remote, childPath, stats); err != nil {
				return err
			}
		}
		return nil
	}

	keys := remote.KeysInBucket(path)
	for _, k := range keys {
		stats.KeysCompared++
		rec, ok := remote.GetRecord(k)
		if !ok {
			continue
		}
		changed, err := local.Merge(k, rec)
		if err != nil {
			return err
		}
		if changed {
			stats.KeysMerged++
		}
	}
	return nil
}

// SyncORSet reconciles local against remote for an OR-set map, merging both
// live records and tombstones found at each differing leaf.
func SyncORSet(ctx context.Context, local, remote *crdt.ORSetMap) (Stats, error) {
	var stats Stats
	if err := walkORSet(ctx, local, remote, nil, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func walkORSet(ctx context.Context, local, remote *crdt.ORSetMap, path []uint8, stats *Stats) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	localHash, localChildren, _ := local.GetBucket(path)
	remoteHash, remoteChildren, _ := remote.GetBucket(path)
	stats.BucketsWalked++

	if bytes.Equal(localHash, remoteHash) {
		return nil
	}

	isLeaf := len(localChildren) == 0 && len(remoteChildren) == 0
	if !isLeaf {
		fanout := len(remoteChildren)
		if len(localChildren) > fanout {
			fanout = len(localChildren)
		}
		for i := 0; i < fanout; i++ {
			childPath := append(append([]uint8(nil), path...), uint8(i))
			if err := walkORSet(ctx, local, remote, childPath, stats); err != nil {
				return err
			}
		}
		return nil
	}

	keys := remote.KeysInBucket(path)
	tombstones := remote.GetTombstones()
	for _, k := range keys {
		stats.KeysCompared++
		records := remote.GetRecordsMap(k)
		recs := make([]crdt.ORRecord, 0, len(records))
		for _, r := range records {
			recs = append(recs, r)
		}
		counters, err := local.MergeKey(k, recs, tombstones)
		if err != nil {
			return err
		}
		if counters.Added > 0 || counters.Updated > 0 {
			stats.KeysMerged++
		}
	}
	return nil
}
