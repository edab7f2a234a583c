// Package journal implements an append-only operation journal: a
// fixed-capacity in-memory ring with a durable tail flushed to storage,
// range queries, startup replay, and retention cleanup.
package journal

import "github.com/maxiokv/dkvd/internal/clock"

// EventType enumerates journal event kinds.
type EventType string

const (
	EventPut    EventType = "PUT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is a single durable record of an accepted mutation.
type Event struct {
	Sequence      uint64
	Type          EventType
	MapName       string
	Key           string
	Value         []byte
	PreviousValue []byte
	Timestamp     clock.Timestamp
	NodeID        string
	Metadata      map[string]string
}

// Store is the durable persistence boundary for the journal's tail.
// Implementations must be durable before AppendBatch returns.
type Store interface {
	AppendBatch(events []Event) error
	// LoadTail returns the newest `limit` events in descending sequence
	// order, for startup replay.
	LoadTail(limit int) ([]Event, error)
	// Range returns events with sequence in [fromSeq, toSeq], optionally
	// filtered by mapName/eventType (either may be empty/"" to skip).
	Range(fromSeq, toSeq uint64, mapName string, eventType EventType) ([]Event, error)
	// DeleteOlderThan deletes rows whose created_at predates cutoffUnixMs
	// and returns the number of rows deleted.
	DeleteOlderThan(cutoffUnixMs int64) (int, error)
	Close() error
}
