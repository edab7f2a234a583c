package storageadapter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerAdapter implements Adapter on BadgerDB, an alternative embedded
// LSM engine to Pebble, selected when the deployment favors Badger's
// value-log GC tuning over Pebble's compaction strategy.
type BadgerAdapter struct {
	db     *badger.DB
	logger *logrus.Logger
	ready  atomic.Bool
	stopGC chan struct{}
}

// BadgerOptions configures a BadgerAdapter.
type BadgerOptions struct {
	DataDir    string
	SyncWrites bool
	Logger     *logrus.Logger
}

// NewBadgerAdapter opens (creating if absent) a BadgerDB-backed adapter at
// DataDir/storage.
func NewBadgerAdapter(opts BadgerOptions) (*BadgerAdapter, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	dbPath := filepath.Join(opts.DataDir, "storage")

	badgerOpts := badger.DefaultOptions(dbPath).
		WithSyncWrites(opts.SyncWrites).
		WithIndexCacheSize(100 << 20).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	a := &BadgerAdapter{db: db, logger: opts.Logger, stopGC: make(chan struct{})}
	a.ready.Store(true)
	go a.runGC()
	opts.Logger.WithField("path", dbPath).Info("badger storage adapter initialized")
	return a, nil
}

func (a *BadgerAdapter) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopGC:
			return
		case <-ticker.C:
			if err := a.db.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
				a.logger.WithError(err).Debug("badger value log GC skipped")
			}
		}
	}
}

func (a *BadgerAdapter) Initialize(ctx context.Context) error { return nil }

func (a *BadgerAdapter) Close() error {
	a.ready.Store(false)
	close(a.stopGC)
	return a.db.Close()
}

func (a *BadgerAdapter) Load(ctx context.Context, mapName, key string) (Value, bool, error) {
	var v Value
	found := false
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(storageKey(mapName, key)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(b []byte) error {
			parsed, err := unmarshalValue(b)
			if err != nil {
				return err
			}
			v, found = parsed, true
			return nil
		})
	})
	if err != nil {
		return Value{}, false, fmt.Errorf("badger get %s/%s: %w", mapName, key, err)
	}
	return v, found, nil
}

func (a *BadgerAdapter) LoadAll(ctx context.Context, mapName string, keys []string) (map[string]Value, error) {
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

func (a *BadgerAdapter) LoadAllKeys(ctx context.Context, mapName string) ([]string, error) {
	prefix := []byte(mapName + "\x00")
	var keys []string
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger iterate %s: %w", mapName, err)
	}
	return keys, nil
}

func (a *BadgerAdapter) Store(ctx context.Context, mapName, key string, v Value) error {
	b, err := v.marshal()
	if err != nil {
		return fmt.Errorf("marshal badger value %s/%s: %w", mapName, key, err)
	}
	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(storageKey(mapName, key)), b)
	})
	if err != nil {
		return fmt.Errorf("badger set %s/%s: %w", mapName, key, err)
	}
	return nil
}

func (a *BadgerAdapter) StoreAll(ctx context.Context, mapName string, values map[string]Value) error {
	wb := a.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range values {
		b, err := v.marshal()
		if err != nil {
			return fmt.Errorf("marshal badger value %s/%s: %w", mapName, k, err)
		}
		if err := wb.Set([]byte(storageKey(mapName, k)), b); err != nil {
			return fmt.Errorf("batch set %s/%s: %w", mapName, k, err)
		}
	}
	return wb.Flush()
}

func (a *BadgerAdapter) Delete(ctx context.Context, mapName, key string) error {
	err := a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(storageKey(mapName, key)))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s/%s: %w", mapName, key, err)
	}
	return nil
}

func (a *BadgerAdapter) DeleteAll(ctx context.Context, mapName string, keys []string) error {
	wb := a.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete([]byte(storageKey(mapName, k))); err != nil {
			return fmt.Errorf("batch delete %s/%s: %w", mapName, k, err)
		}
	}
	return wb.Flush()
}
