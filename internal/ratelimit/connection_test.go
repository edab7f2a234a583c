package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldAcceptRejectsOverPerSecondCap(t *testing.T) {
	l := New(Config{MaxConnectionsPerSecond: 2, MaxPendingConnections: 100})
	assert.True(t, l.ShouldAccept())
	assert.True(t, l.ShouldAccept())
	assert.False(t, l.ShouldAccept())
}

func TestShouldAcceptRejectsOverPendingCap(t *testing.T) {
	l := New(Config{MaxConnectionsPerSecond: 100, MaxPendingConnections: 1})
	assert.True(t, l.ShouldAccept())
	assert.False(t, l.ShouldAccept())
	l.Established()
	assert.True(t, l.ShouldAccept())
}

func TestWindowRollsOver(t *testing.T) {
	fixed := time.Now()
	l := New(Config{MaxConnectionsPerSecond: 1, MaxPendingConnections: 100, WindowDuration: 10 * time.Millisecond})
	l.now = func() time.Time { return fixed }
	assert.True(t, l.ShouldAccept())
	assert.False(t, l.ShouldAccept())

	fixed = fixed.Add(20 * time.Millisecond)
	assert.True(t, l.ShouldAccept())
}

func TestStatsTracksTotals(t *testing.T) {
	l := New(Config{MaxConnectionsPerSecond: 5, MaxPendingConnections: 5})
	l.ShouldAccept()
	l.Established()
	l.ShouldAccept()
	l.PendingFailed()

	s := l.Stats()
	assert.Equal(t, uint64(1), s.TotalAccepted)
	assert.Equal(t, 0, s.Pending)
}
