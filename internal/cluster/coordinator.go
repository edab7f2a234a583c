// Package cluster implements membership tracking and partition handoff: it
// rebuilds the partition map from external discovery's membership view and
// emits handoff plans so anti-entropy can stream a moved partition to its
// new owner/backups while writes keep landing at the old owner.
package cluster

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/maxiokv/dkvd/internal/partition"
	"github.com/maxiokv/dkvd/internal/wire"
)

// Member is one node in the cluster's membership view, as reported by
// external discovery (Consul, Kubernetes endpoints, a static file — the
// discovery mechanism itself is out of scope here).
type Member struct {
	NodeID  string
	Address string
}

// Discovery supplies the cluster's current and future membership. Watch's
// channel delivers the full membership set on every change, not a diff.
type Discovery interface {
	Watch(ctx context.Context) (<-chan []Member, error)
}

// HandoffPlan is one partition's move: stream its contents from FromNode to
// every node in ToNodes that doesn't already have it.
type HandoffPlan struct {
	PartitionIndex int
	FromNode       string
	ToNodes        []string
}

// HandoffExecutor carries out a HandoffPlan, typically by driving
// internal/antientropy against the target nodes.
type HandoffExecutor interface {
	Execute(ctx context.Context, plan HandoffPlan) error
}

// Coordinator owns this node's view of cluster membership and the resulting
// partition map, and drives handoffs when ownership changes.
type Coordinator struct {
	NodeID string

	partitions *partition.Manager
	handoff    HandoffExecutor
	log        *logrus.Entry

	mu      sync.RWMutex
	members map[string]Member
}

// NewCoordinator wires a Coordinator. handoff may be nil, in which case
// rebalances are computed and published but no data is moved (useful for
// tests that only assert on the computed HandoffPlan).
func NewCoordinator(nodeID string, partitions *partition.Manager, handoff HandoffExecutor, logger *logrus.Logger) *Coordinator {
	c := &Coordinator{
		NodeID:     nodeID,
		partitions: partitions,
		handoff:    handoff,
		log:        logger.WithFields(logrus.Fields{"component": "cluster", "node_id": nodeID}),
		members:    make(map[string]Member),
	}
	partitions.Subscribe(c.onRebalance)
	return c
}

// Run watches discovery until ctx is cancelled, rebuilding the partition map
// on every membership change.
func (c *Coordinator) Run(ctx context.Context, discovery Discovery) error {
	updates, err := discovery.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case members, ok := <-updates:
			if !ok {
				return nil
			}
			c.applyMembership(members)
		}
	}
}

func (c *Coordinator) applyMembership(members []Member) {
	byID := make(map[string]Member, len(members))
	nodeIDs := make([]string, 0, len(members))
	for _, m := range members {
		byID[m.NodeID] = m
		nodeIDs = append(nodeIDs, m.NodeID)
	}

	c.mu.Lock()
	c.members = byID
	c.mu.Unlock()

	c.log.WithField("member_count", len(members)).Info("membership changed, rebalancing partitions")
	c.partitions.Rebalance(nodeIDs)
}

// onRebalance is the partition.Manager listener: for every partition this
// node was previously serving as owner or backup, it computes the set of
// newly-added replicas and emits a handoff plan to stream data to them.
func (c *Coordinator) onRebalance(oldMap, newMap *partition.Map, changes []partition.Change) {
	if c.handoff == nil || oldMap == nil {
		return
	}
	for _, ch := range changes {
		if !c.wasOwnerOrBackup(ch.OldOwner, ch.OldBackups) {
			continue
		}
		newReplicas := ch.NewBackups
		if ch.NewOwner != "" {
			newReplicas = append([]string{ch.NewOwner}, newReplicas...)
		}
		targets := subtractKnown(newReplicas, ch.OldOwner, ch.OldBackups)
		if len(targets) == 0 {
			continue
		}
		plan := HandoffPlan{PartitionIndex: ch.PartitionIndex, FromNode: c.NodeID, ToNodes: targets}
		if err := c.handoff.Execute(context.Background(), plan); err != nil {
			c.log.WithError(err).WithField("partition", ch.PartitionIndex).Warn("handoff execution failed")
		}
	}
}

func (c *Coordinator) wasOwnerOrBackup(oldOwner string, oldBackups []string) bool {
	if oldOwner == c.NodeID {
		return true
	}
	for _, b := range oldBackups {
		if b == c.NodeID {
			return true
		}
	}
	return false
}

func subtractKnown(candidates []string, oldOwner string, oldBackups []string) []string {
	known := map[string]struct{}{oldOwner: {}}
	for _, b := range oldBackups {
		known[b] = struct{}{}
	}
	var out []string
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, seen := known[c]; seen {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Members returns a snapshot of the current membership view.
func (c *Coordinator) Members() []Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// TagClusterOrigin stamps op as forwarded from this node, so the receiving
// node's pipeline recognizes it as a cluster replication op and does not
// rebroadcast it back across the cluster (avoiding a broadcast loop).
func TagClusterOrigin(op wire.ClientOpMsg, nodeID string) wire.ClientOpMsg {
	op.OriginNodeID = nodeID
	return op
}

// IsClusterOrigin reports whether op arrived via cluster forwarding rather
// than directly from a client.
func IsClusterOrigin(op wire.ClientOpMsg) bool {
	return op.OriginNodeID != ""
}
