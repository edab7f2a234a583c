// Package storageadapter is the durability boundary the coordination plane
// core depends on: implementations must be durable before Store/StoreAll
// return. Four backends are provided (in-memory, Pebble, BadgerDB and an
// S3-compatible bucket); a node uses exactly one of them.
package storageadapter

import (
	"context"
	"encoding/json"

	"github.com/maxiokv/dkvd/internal/crdt"
)

// ValueKind discriminates which CRDT shape a Value carries.
type ValueKind int

const (
	KindLWWRecord ValueKind = iota
	KindORMapValue
	KindORMapTombstones
)

// Value is the union of the three persisted shapes: an LWW record, the set
// of live OR-set records for a key, or an OR-set key's tombstone tag list.
type Value struct {
	Kind         ValueKind
	LWW          *crdt.LWWRecord
	ORRecords    []crdt.ORRecord
	ORTombstones []string
}

func (v Value) marshal() ([]byte, error) { return json.Marshal(v) }

func unmarshalValue(b []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(b, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Adapter is the storage boundary implemented by each backend.
type Adapter interface {
	Initialize(ctx context.Context) error
	Close() error

	Load(ctx context.Context, mapName, key string) (Value, bool, error)
	LoadAll(ctx context.Context, mapName string, keys []string) (map[string]Value, error)
	LoadAllKeys(ctx context.Context, mapName string) ([]string, error)

	Store(ctx context.Context, mapName, key string, v Value) error
	StoreAll(ctx context.Context, mapName string, values map[string]Value) error

	Delete(ctx context.Context, mapName, key string) error
	DeleteAll(ctx context.Context, mapName string, keys []string) error
}

// storageKey builds the backend-agnostic key namespacing maps, shared by
// every key-value backend (Pebble, BadgerDB, in-memory).
func storageKey(mapName, key string) string {
	return mapName + "\x00" + key
}
