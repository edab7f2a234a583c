package session

import (
	"context"
	"sync"
	"time"

	"github.com/maxiokv/dkvd/internal/wire"
)

// pendingWrite tracks the acks a quorum/all write still needs before the
// client's ACK frame can be released.
type pendingWrite struct {
	need int
	got  int
	done chan struct{}
}

// WriteConcernTracker holds the in-flight pending-ack state for ops awaiting
// QUORUM or ALL acknowledgement from replica nodes. A zero-value tracker
// answers every AwaitAcks immediately (suitable for a single-node deployment
// or tests), since ReplicaCount defaults to 0.
type WriteConcernTracker struct {
	// ReplicaCount is the number of backup replicas a partition is
	// configured with; QUORUM requires a majority of them, ALL requires
	// every one.
	ReplicaCount int
	Timeout      time.Duration

	mu      sync.Mutex
	pending map[string]*pendingWrite
}

// NewWriteConcernTracker constructs a tracker for a cluster with the given
// replica count.
func NewWriteConcernTracker(replicaCount int, timeout time.Duration) *WriteConcernTracker {
	if timeout <= 0 {
		timeout = defaultAckTimeout
	}
	return &WriteConcernTracker{ReplicaCount: replicaCount, Timeout: timeout, pending: make(map[string]*pendingWrite)}
}

func (t *WriteConcernTracker) requiredAcks(concern wire.WriteConcern) int {
	if t.ReplicaCount <= 0 {
		return 0
	}
	switch concern {
	case wire.ConcernQuorum:
		return (t.ReplicaCount / 2) + 1
	case wire.ConcernAll:
		return t.ReplicaCount
	default:
		return 0
	}
}

// AwaitAcks blocks until op's write concern is satisfied, the context is
// cancelled, or Timeout elapses.
func (t *WriteConcernTracker) AwaitAcks(ctx context.Context, op wire.ClientOpMsg) error {
	need := t.requiredAcks(op.WriteConcern)
	if need <= 0 {
		return nil
	}

	t.mu.Lock()
	pw := &pendingWrite{need: need, done: make(chan struct{})}
	t.pending[op.OpID] = pw
	t.mu.Unlock()

	timer := time.NewTimer(t.Timeout)
	defer timer.Stop()

	select {
	case <-pw.done:
		return nil
	case <-ctx.Done():
		t.forget(op.OpID)
		return ctx.Err()
	case <-timer.C:
		t.forget(op.OpID)
		return context.DeadlineExceeded
	}
}

// RecordReplicaAck registers one replica's ack for opID, releasing any
// AwaitAcks caller once enough acks have accumulated.
func (t *WriteConcernTracker) RecordReplicaAck(opID string) {
	t.mu.Lock()
	pw, ok := t.pending[opID]
	if !ok {
		t.mu.Unlock()
		return
	}
	pw.got++
	satisfied := pw.got >= pw.need
	if satisfied {
		delete(t.pending, opID)
	}
	t.mu.Unlock()

	if satisfied {
		close(pw.done)
	}
}

func (t *WriteConcernTracker) forget(opID string) {
	t.mu.Lock()
	delete(t.pending, opID)
	t.mu.Unlock()
}
