package journal

import (
	"testing"

	"github.com/maxiokv/dkvd/internal/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// TestJournalMonotonicity verifies sequence numbers strictly increase.
func TestJournalMonotonicity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistInterval = 0
	cfg.PersistBatchSize = 1 << 30
	j, err := New("node-1", cfg, nil, testLogger())
	require.NoError(t, err)

	var prev uint64
	for i := 0; i < 50; i++ {
		evt := j.Append(Event{Type: EventPut, MapName: "m", Key: "k", Timestamp: clock.Timestamp{Physical: uint64(i), NodeID: "node-1"}})
		if i > 0 {
			assert.Greater(t, evt.Sequence, prev)
		}
		prev = evt.Sequence
	}
}

func TestJournalReplayAfterRestart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistInterval = 0
	cfg.PersistBatchSize = 1
	store := NewMemoryStore()

	j1, err := New("node-1", cfg, store, testLogger())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		j1.Append(Event{Type: EventPut, MapName: "m", Key: "k", Timestamp: clock.Timestamp{Physical: uint64(i), NodeID: "node-1"}})
	}
	require.NoError(t, j1.Close())

	j2, err := New("node-1", cfg, store, testLogger())
	require.NoError(t, err)
	replayed := j2.Replay()
	require.Len(t, replayed, 10)
	for i := 1; i < len(replayed); i++ {
		assert.Greater(t, replayed[i].Sequence, replayed[i-1].Sequence)
	}
	assert.Equal(t, uint64(10), j2.NextSequence())
}

func TestJournalRangeFilters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistInterval = 0
	j, err := New("node-1", cfg, nil, testLogger())
	require.NoError(t, err)

	j.Append(Event{Type: EventPut, MapName: "a", Key: "k1"})
	j.Append(Event{Type: EventDelete, MapName: "a", Key: "k1"})
	j.Append(Event{Type: EventPut, MapName: "b", Key: "k2"})

	all := j.Range(0, 1000, "", "")
	assert.Len(t, all, 3)

	onlyA := j.Range(0, 1000, "a", "")
	assert.Len(t, onlyA, 2)

	onlyDeletes := j.Range(0, 1000, "", EventDelete)
	assert.Len(t, onlyDeletes, 1)
}

func TestJournalFlushFailureRequeuesAtHead(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistInterval = 0
	cfg.PersistBatchSize = 2
	store := &failingStore{Store: NewMemoryStore(), failNext: true}
	j, err := New("node-1", cfg, store, testLogger())
	require.NoError(t, err)

	j.Append(Event{Type: EventPut, MapName: "a", Key: "k1"})
	j.Append(Event{Type: EventPut, MapName: "a", Key: "k2"}) // triggers flush attempt, fails

	store.failNext = false
	j.Append(Event{Type: EventPut, MapName: "a", Key: "k3"}) // triggers flush, now succeeds with k1-k3
	j.Append(Event{Type: EventPut, MapName: "a", Key: "k4"}) // written by Close's final flush

	require.NoError(t, j.Close())
	rows, err := store.LoadTail(10)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

type failingStore struct {
	Store
	failNext bool
}

func (f *failingStore) AppendBatch(events []Event) error {
	if f.failNext {
		return assertError{}
	}
	return f.Store.AppendBatch(events)
}

type assertError struct{}

func (assertError) Error() string { return "simulated storage failure" }
