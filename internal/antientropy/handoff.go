package antientropy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxiokv/dkvd/internal/cluster"
	"github.com/maxiokv/dkvd/internal/partition"
	"github.com/maxiokv/dkvd/internal/session"
	"github.com/maxiokv/dkvd/internal/wire"
)

// HandoffExecutor implements cluster.HandoffExecutor by replaying every
// record this node holds for a moved partition as a synthetic CLUSTER_OP,
// pushed through the same /cluster/op HTTP surface the write-path replicator
// uses. Each replayed op carries the record's original timestamp rather than
// a freshly minted one, so the receiving node's LWW/OR-set merge reproduces
// the same outcome it would have reached via normal replication.
type HandoffExecutor struct {
	nodeID     string
	registry   *session.Registry
	partitions *partition.Manager
	client     *http.Client
	log        *logrus.Entry

	coordinator *cluster.Coordinator
}

// NewHandoffExecutor constructs a HandoffExecutor. BindCoordinator must be
// called with the owning Coordinator before Execute runs, since the
// Coordinator is only available after construction completes (it is built
// from this executor).
func NewHandoffExecutor(nodeID string, registry *session.Registry, partitions *partition.Manager, logger *logrus.Logger) *HandoffExecutor {
	return &HandoffExecutor{
		nodeID:     nodeID,
		registry:   registry,
		partitions: partitions,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        logger.WithField("component", "handoff"),
	}
}

// BindCoordinator supplies the Coordinator used to resolve target node
// addresses, breaking the construction cycle between Coordinator (which
// needs a HandoffExecutor) and HandoffExecutor (which needs the Coordinator).
func (h *HandoffExecutor) BindCoordinator(c *cluster.Coordinator) {
	h.coordinator = c
}

// Execute streams every record this node owns for plan.PartitionIndex to
// each node in plan.ToNodes, one synthetic ClientOpMsg per record.
func (h *HandoffExecutor) Execute(ctx context.Context, plan cluster.HandoffPlan) error {
	addrByNode := make(map[string]string)
	for _, m := range h.coordinator.Members() {
		addrByNode[m.NodeID] = m.Address
	}

	targets := make([]string, 0, len(plan.ToNodes))
	for _, nodeID := range plan.ToNodes {
		if addr, ok := addrByNode[nodeID]; ok && addr != "" {
			targets = append(targets, addr)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	ops := h.collectOps(plan.PartitionIndex)
	h.log.WithFields(logrus.Fields{
		"partition": plan.PartitionIndex,
		"ops":       len(ops),
		"targets":   len(targets),
	}).Info("streaming partition handoff")

	var firstErr error
	for _, op := range ops {
		body, err := json.Marshal(struct {
			Op []byte `json:"op"`
		}{Op: op.Marshal()})
		if err != nil {
			return fmt.Errorf("failed to encode handoff op: %w", err)
		}
		for _, addr := range targets {
			if err := h.send(ctx, addr, body); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h *HandoffExecutor) send(ctx context.Context, addr string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/cluster/op", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build handoff request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.WithError(err).WithField("addr", addr).Warn("handoff push failed")
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// collectOps walks every registered map and returns one ClientOpMsg per
// record whose key hashes to partitionIdx, tagged as cluster-origin so the
// receiving node doesn't rebroadcast it.
func (h *HandoffExecutor) collectOps(partitionIdx int) []wire.ClientOpMsg {
	var ops []wire.ClientOpMsg
	for name, kind := range h.registry.MapNames() {
		switch kind {
		case session.KindLWW:
			m, ok := h.registry.LWWMap(name)
			if !ok {
				continue
			}
			for _, key := range m.AllKeys() {
				if h.partitions.PartitionOf(key) != partitionIdx {
					continue
				}
				rec, ok := m.GetRecord(key)
				if !ok {
					continue
				}
				opType := wire.OpPut
				if rec.Tombstone() {
					opType = wire.OpRemove
				}
				op := wire.ClientOpMsg{
					MapName:   name,
					Key:       key,
					OpType:    opType,
					Value:     rec.Value,
					TTLMs:     rec.TTLMs,
					Timestamp: rec.Timestamp,
				}
				ops = append(ops, cluster.TagClusterOrigin(op, h.nodeID))
			}
		case session.KindORSet:
			m, ok := h.registry.ORSetMap(name)
			if !ok {
				continue
			}
			for _, key := range m.AllKeys() {
				if h.partitions.PartitionOf(key) != partitionIdx {
					continue
				}
				for _, rec := range m.GetRecordsMap(key) {
					op := wire.ClientOpMsg{
						MapName:   name,
						Key:       key,
						OpType:    wire.OpOrAdd,
						Value:     rec.Value,
						Tag:       rec.Tag,
						Timestamp: rec.Timestamp,
					}
					ops = append(ops, cluster.TagClusterOrigin(op, h.nodeID))
				}
			}
		}
	}
	return ops
}
