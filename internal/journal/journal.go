package journal

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config tunes the ring buffer and durable-tail flush policy.
type Config struct {
	Capacity         int
	PersistInterval  time.Duration
	PersistBatchSize int
	RetentionDays    int
}

// DefaultConfig returns conservative defaults suitable for a single-node
// development deployment.
func DefaultConfig() Config {
	return Config{
		Capacity:         100_000,
		PersistInterval:  2 * time.Second,
		PersistBatchSize: 500,
		RetentionDays:    30,
	}
}

// Journal is the fixed-capacity ring with a durable tail. Append is
// serialized; reads use the current in-memory snapshot, which always
// includes the unflushed tail.
type Journal struct {
	cfg    Config
	store  Store
	log    *logrus.Entry
	nodeID string

	mu       sync.Mutex
	ring     []Event // logical ring, oldest first, capped at cfg.Capacity
	nextSeq  uint64
	pending  []Event // accepted but not yet durably flushed
	lastFlush time.Time
	closed   bool
	flushWG  sync.WaitGroup
	stopCh   chan struct{}
}

// New constructs a Journal. If store is non-nil its tail is replayed first,
// in ascending sequence order, to seed the in-memory ring.
func New(nodeID string, cfg Config, store Store, logger *logrus.Logger) (*Journal, error) {
	j := &Journal{
		cfg:    cfg,
		store:  store,
		log:    logger.WithField("component", "journal"),
		nodeID: nodeID,
		stopCh: make(chan struct{}),
	}
	if store != nil {
		if err := j.loadAndReplay(); err != nil {
			return nil, err
		}
	}
	if store != nil && cfg.PersistInterval > 0 {
		j.flushWG.Add(1)
		go j.flushLoop()
	}
	return j, nil
}

// loadAndReplay reads the newest `capacity` rows in reverse, then replays
// them ascending with loading=true semantics: it only rebuilds nextSeq and
// the ring, it never re-emits events to subscribers (callers apply replay
// separately via Replay()).
func (j *Journal) loadAndReplay() error {
	rows, err := j.store.LoadTail(j.cfg.Capacity)
	if err != nil {
		return err
	}
	// rows arrive newest-first; reverse to ascending.
	for i, n := 0, len(rows); i < n/2; i++ {
		rows[i], rows[n-1-i] = rows[n-1-i], rows[i]
	}
	j.mu.Lock()
	j.ring = rows
	if len(rows) > 0 {
		j.nextSeq = rows[len(rows)-1].Sequence + 1
	}
	j.mu.Unlock()
	return nil
}

// Replay returns the events loaded at startup in ascending order, for the
// coordinator to re-apply CRDT merges without re-emitting broadcasts.
func (j *Journal) Replay() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.ring))
	copy(out, j.ring)
	return out
}

// Append records a new mutation, assigning it the next monotonic sequence
// number. Sequence numbers strictly increase across restarts.
func (j *Journal) Append(evt Event) Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	evt.Sequence = j.nextSeq
	j.nextSeq++
	if evt.NodeID == "" {
		evt.NodeID = j.nodeID
	}

	j.ring = append(j.ring, evt)
	if len(j.ring) > j.cfg.Capacity {
		j.ring = j.ring[len(j.ring)-j.cfg.Capacity:]
	}
	j.pending = append(j.pending, evt)

	if j.store != nil && len(j.pending) >= j.cfg.PersistBatchSize {
		j.flushLocked()
	}
	return evt
}

// flushLocked persists j.pending. On failure the batch is re-queued at the
// head so the in-memory view is never lost.
func (j *Journal) flushLocked() {
	if len(j.pending) == 0 {
		return
	}
	batch := j.pending
	j.pending = nil
	j.mu.Unlock()
	err := j.store.AppendBatch(batch)
	j.mu.Lock()
	if err != nil {
		j.log.WithError(err).WithField("batch_size", len(batch)).Warn("journal flush failed, re-queuing at head")
		j.pending = append(batch, j.pending...)
		return
	}
	j.lastFlush = time.Now()
}

func (j *Journal) flushLoop() {
	defer j.flushWG.Done()
	ticker := time.NewTicker(j.cfg.PersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.mu.Lock()
			j.flushLocked()
			j.mu.Unlock()
		case <-j.stopCh:
			j.mu.Lock()
			j.flushLocked()
			j.mu.Unlock()
			return
		}
	}
}

// Range scans the in-memory ring (which always contains the unflushed
// tail, so readers see unflushed events too) for events with sequence in
// [fromSeq, toSeq], optionally filtered.
func (j *Journal) Range(fromSeq, toSeq uint64, mapName string, eventType EventType) []Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Event
	for _, e := range j.ring {
		if e.Sequence < fromSeq || e.Sequence > toSeq {
			continue
		}
		if mapName != "" && e.MapName != mapName {
			continue
		}
		if eventType != "" && e.Type != eventType {
			continue
		}
		out = append(out, e)
	}
	return out
}

// RetentionCleanup deletes durable rows older than retentionDays and returns
// the deleted count.
func (j *Journal) RetentionCleanup() (int, error) {
	if j.store == nil {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -j.cfg.RetentionDays).UnixMilli()
	return j.store.DeleteOlderThan(cutoff)
}

// NextSequence previews the sequence the next Append would assign, for
// tests and diagnostics; it does not reserve it.
func (j *Journal) NextSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextSeq
}

// Close stops the flush loop and performs a final flush.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.stopCh)
	j.flushWG.Wait()
	if j.store != nil {
		j.mu.Lock()
		j.flushLocked()
		j.mu.Unlock()
		return j.store.Close()
	}
	return nil
}
