package storageadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/pebble/v2"
	"github.com/sirupsen/logrus"
)

// PebbleAdapter implements Adapter on Pebble, CockroachDB's LSM engine.
// Pebble's WAL survives crashes without corrupting the MANIFEST, which is
// why it is the default durable backend for single-node deployments.
type PebbleAdapter struct {
	db     *pebble.DB
	logger *logrus.Logger
	ready  atomic.Bool
}

// PebbleOptions configures a PebbleAdapter.
type PebbleOptions struct {
	DataDir string
	Logger  *logrus.Logger
}

// NewPebbleAdapter opens (creating if absent) a Pebble-backed adapter at
// DataDir/storage.
func NewPebbleAdapter(opts PebbleOptions) (*PebbleAdapter, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	dbPath := filepath.Join(opts.DataDir, "storage")
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	a := &PebbleAdapter{db: db, logger: opts.Logger}
	a.ready.Store(true)
	opts.Logger.WithField("path", dbPath).Info("pebble storage adapter initialized")
	return a, nil
}

func (a *PebbleAdapter) Initialize(ctx context.Context) error { return nil }

func (a *PebbleAdapter) Close() error {
	a.ready.Store(false)
	return a.db.Close()
}

func (a *PebbleAdapter) Load(ctx context.Context, mapName, key string) (Value, bool, error) {
	b, closer, err := a.db.Get([]byte(storageKey(mapName, key)))
	if err == pebble.ErrNotFound {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, fmt.Errorf("pebble get %s/%s: %w", mapName, key, err)
	}
	defer closer.Close()
	v, err := unmarshalValue(b)
	if err != nil {
		return Value{}, false, fmt.Errorf("unmarshal pebble value %s/%s: %w", mapName, key, err)
	}
	return v, true, nil
}

func (a *PebbleAdapter) LoadAll(ctx context.Context, mapName string, keys []string) (map[string]Value, error) {
	out := make(map[string]Value, len(keys))
	for _, k := range keys {
		v, ok, err := a.Load(ctx, mapName, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (a *PebbleAdapter) LoadAllKeys(ctx context.Context, mapName string) ([]string, error) {
	prefix := []byte(mapName + "\x00")
	iter, err := a.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, fmt.Errorf("pebble iterate %s: %w", mapName, err)
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, strings.TrimPrefix(string(iter.Key()), string(prefix)))
	}
	return keys, iter.Error()
}

func (a *PebbleAdapter) Store(ctx context.Context, mapName, key string, v Value) error {
	b, err := v.marshal()
	if err != nil {
		return fmt.Errorf("marshal pebble value %s/%s: %w", mapName, key, err)
	}
	if err := a.db.Set([]byte(storageKey(mapName, key)), b, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s/%s: %w", mapName, key, err)
	}
	return nil
}

func (a *PebbleAdapter) StoreAll(ctx context.Context, mapName string, values map[string]Value) error {
	batch := a.db.NewBatch()
	defer batch.Close()
	for k, v := range values {
		b, err := v.marshal()
		if err != nil {
			return fmt.Errorf("marshal pebble value %s/%s: %w", mapName, k, err)
		}
		if err := batch.Set([]byte(storageKey(mapName, k)), b, nil); err != nil {
			return fmt.Errorf("batch set %s/%s: %w", mapName, k, err)
		}
	}
	return batch.Commit(pebble.Sync)
}

func (a *PebbleAdapter) Delete(ctx context.Context, mapName, key string) error {
	if err := a.db.Delete([]byte(storageKey(mapName, key)), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %s/%s: %w", mapName, key, err)
	}
	return nil
}

func (a *PebbleAdapter) DeleteAll(ctx context.Context, mapName string, keys []string) error {
	batch := a.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Delete([]byte(storageKey(mapName, k)), nil); err != nil {
			return fmt.Errorf("batch delete %s/%s: %w", mapName, k, err)
		}
	}
	return batch.Commit(pebble.Sync)
}

// prefixEnd returns the exclusive upper bound for a prefix scan in Pebble.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
