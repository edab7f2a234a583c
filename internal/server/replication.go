package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxiokv/dkvd/internal/cluster"
	"github.com/maxiokv/dkvd/internal/metrics"
	"github.com/maxiokv/dkvd/internal/partition"
	"github.com/maxiokv/dkvd/internal/session"
	"github.com/maxiokv/dkvd/internal/wire"
)

// replicator forwards a committed write to the backup replicas of its
// partition over HTTP, so their local pipeline applies it and (for
// QUORUM/ALL writes) acks back via WriteConcernTracker.RecordReplicaAck.
// It is registered as a session.Pipeline OnAfterOp hook.
type replicator struct {
	nodeID      string
	partitions  *partition.Manager
	coordinator *cluster.Coordinator
	tracker     *session.WriteConcernTracker
	metrics     *metrics.Metrics
	client      *http.Client
	log         *logrus.Entry
}

func newReplicator(nodeID string, partitions *partition.Manager, coordinator *cluster.Coordinator, tracker *session.WriteConcernTracker, m *metrics.Metrics, logger *logrus.Logger) *replicator {
	return &replicator{
		nodeID: nodeID, partitions: partitions, coordinator: coordinator, tracker: tracker, metrics: m,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    logger.WithField("component", "replicator"),
	}
}

// afterOp is the session.Interceptor registered on Pipeline.OnAfterOp.
func (r *replicator) afterOp(ctx context.Context, sess *session.Session, op wire.ClientOpMsg) {
	if cluster.IsClusterOrigin(op) {
		// Already a forwarded op; don't re-forward to avoid cluster-wide loops.
		return
	}

	idx := r.partitions.PartitionOf(op.Key)
	parts := r.partitions.Current().Partitions
	if idx >= len(parts) {
		return
	}
	backups := parts[idx].BackupNodeIDs
	if len(backups) == 0 {
		return
	}

	addrByNode := make(map[string]string)
	for _, m := range r.coordinator.Members() {
		addrByNode[m.NodeID] = m.Address
	}

	forwarded := cluster.TagClusterOrigin(op, r.nodeID)
	body, err := json.Marshal(struct {
		Op []byte `json:"op"`
	}{Op: forwarded.Marshal()})
	if err != nil {
		r.log.WithError(err).Warn("failed to encode op for replica forwarding")
		return
	}

	for _, nodeID := range backups {
		addr, ok := addrByNode[nodeID]
		if !ok || addr == "" {
			continue
		}
		go r.forwardOne(ctx, addr, op.OpID, body)
	}
}

func (r *replicator) forwardOne(ctx context.Context, addr, opID string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/cluster/op", bytes.NewReader(body))
	if err != nil {
		r.log.WithError(err).Warn("failed to build replica forward request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.WithError(err).WithField("addr", addr).Warn("replica forward failed")
		return
	}
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if r.tracker != nil {
			r.tracker.RecordReplicaAck(opID)
		}
		if r.metrics != nil {
			r.metrics.ReplicaAcks.Inc()
		}
	}
}
