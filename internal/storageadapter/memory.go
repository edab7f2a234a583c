package storageadapter

import (
	"context"
	"strings"
	"sync"
)

// MemoryAdapter is an in-process Adapter used in tests and for ephemeral
// single-node deployments that accept losing state on crash.
type MemoryAdapter struct {
	mu   sync.RWMutex
	rows map[string]Value // storageKey(mapName, key) -> Value
}

// NewMemoryAdapter constructs an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{rows: make(map[string]Value)}
}

func (a *MemoryAdapter) Initialize(ctx context.Context) error { return nil }
func (a *MemoryAdapter) Close() error                         { return nil }

func (a *MemoryAdapter) Load(ctx context.Context, mapName, key string) (Value, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.rows[storageKey(mapName, key)]
	return v, ok, nil
}

func (a *MemoryAdapter) LoadAll(ctx context.Context, mapName string, keys []string) (map[string]Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]Value, len(keys))
	for _, k := range keys {
		if v, ok := a.rows[storageKey(mapName, k)]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (a *MemoryAdapter) LoadAllKeys(ctx context.Context, mapName string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	prefix := mapName + "\x00"
	var keys []string
	for k := range a.rows {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	return keys, nil
}

func (a *MemoryAdapter) Store(ctx context.Context, mapName, key string, v Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows[storageKey(mapName, key)] = v
	return nil
}

func (a *MemoryAdapter) StoreAll(ctx context.Context, mapName string, values map[string]Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range values {
		a.rows[storageKey(mapName, k)] = v
	}
	return nil
}

func (a *MemoryAdapter) Delete(ctx context.Context, mapName, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rows, storageKey(mapName, key))
	return nil
}

func (a *MemoryAdapter) DeleteAll(ctx context.Context, mapName string, keys []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range keys {
		delete(a.rows, storageKey(mapName, k))
	}
	return nil
}
