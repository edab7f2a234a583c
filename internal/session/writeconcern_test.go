package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxiokv/dkvd/internal/wire"
)

func TestAwaitAcksLocalConcernReturnsImmediately(t *testing.T) {
	tr := NewWriteConcernTracker(3, time.Second)
	err := tr.AwaitAcks(context.Background(), wire.ClientOpMsg{OpID: "o1", WriteConcern: wire.ConcernLocal})
	require.NoError(t, err)
}

func TestAwaitAcksQuorumReleasesOnMajority(t *testing.T) {
	tr := NewWriteConcernTracker(3, time.Second) // quorum = 2

	done := make(chan error, 1)
	go func() {
		done <- tr.AwaitAcks(context.Background(), wire.ClientOpMsg{OpID: "o1", WriteConcern: wire.ConcernQuorum})
	}()

	time.Sleep(10 * time.Millisecond)
	tr.RecordReplicaAck("o1")
	tr.RecordReplicaAck("o1")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitAcks did not release after quorum acks")
	}
}

func TestAwaitAcksAllRequiresEveryReplica(t *testing.T) {
	tr := NewWriteConcernTracker(3, 50*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- tr.AwaitAcks(context.Background(), wire.ClientOpMsg{OpID: "o1", WriteConcern: wire.ConcernAll})
	}()

	tr.RecordReplicaAck("o1") // only 1 of 3

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitAcks should have timed out")
	}
}

func TestAwaitAcksContextCancellationUnblocks(t *testing.T) {
	tr := NewWriteConcernTracker(3, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- tr.AwaitAcks(ctx, wire.ClientOpMsg{OpID: "o1", WriteConcern: wire.ConcernQuorum})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitAcks did not unblock on context cancellation")
	}
}
