package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxiokv/dkvd/internal/partition"
	"github.com/maxiokv/dkvd/internal/wire"
)

func makeOp() wire.ClientOpMsg {
	return wire.ClientOpMsg{OpID: "op-1", MapName: "widgets", Key: "k1", OpType: wire.OpPut, Value: []byte("v")}
}

func testLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

type fakeDiscovery struct {
	updates chan []Member
}

func (d *fakeDiscovery) Watch(ctx context.Context) (<-chan []Member, error) {
	return d.updates, nil
}

type recordingHandoff struct {
	mu    sync.Mutex
	plans []HandoffPlan
}

func (h *recordingHandoff) Execute(ctx context.Context, plan HandoffPlan) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plans = append(h.plans, plan)
	return nil
}

func (h *recordingHandoff) snapshot() []HandoffPlan {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HandoffPlan(nil), h.plans...)
}

func TestApplyMembershipRebuildsPartitionMap(t *testing.T) {
	pm := partition.NewManager(16, 1)
	handoff := &recordingHandoff{}
	coord := NewCoordinator("node-a", pm, handoff, testLogger())

	coord.applyMembership([]Member{{NodeID: "node-a"}, {NodeID: "node-b"}})

	m := pm.Current()
	assert.Equal(t, uint64(1), m.Version)
	assert.ElementsMatch(t, []string{"node-a", "node-b"}, coordMemberIDs(coord))
}

func coordMemberIDs(c *Coordinator) []string {
	var ids []string
	for _, m := range c.Members() {
		ids = append(ids, m.NodeID)
	}
	return ids
}

func TestOnRebalanceEmitsHandoffForOwnedPartitions(t *testing.T) {
	pm := partition.NewManager(8, 1)
	handoff := &recordingHandoff{}
	coord := NewCoordinator("node-a", pm, handoff, testLogger())

	coord.applyMembership([]Member{{NodeID: "node-a"}})
	pm.Rebalance([]string{"node-a", "node-b", "node-c"})

	plans := handoff.snapshot()
	assert.NotEmpty(t, plans)
	for _, p := range plans {
		assert.Equal(t, "node-a", p.FromNode)
		assert.NotEmpty(t, p.ToNodes)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	pm := partition.NewManager(8, 1)
	coord := NewCoordinator("node-a", pm, nil, testLogger())
	disc := &fakeDiscovery{updates: make(chan []Member)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx, disc) }()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestTagAndCheckClusterOrigin(t *testing.T) {
	op := TagClusterOrigin(makeOp(), "node-b")
	assert.True(t, IsClusterOrigin(op))
	assert.False(t, IsClusterOrigin(makeOp()))
}
