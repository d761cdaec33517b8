// Package store is the string key-value boundary the workout log is
// persisted through.
package store

import (
	"context"
	"sync"

	"github.com/NERVsystems/mapty/pkg/monitoring"
)

// KV is a string key-value store. GetItem reports ok=false for an absent
// key; that is not an error.
type KV interface {
	SetItem(ctx context.Context, key, value string) error
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
}

// Memory is a map-backed KV.
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) SetItem(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		monitoring.RecordStoreOperation("memory", "set", false)
		return err
	}
	m.mu.Lock()
	m.items[key] = value
	m.mu.Unlock()
	monitoring.RecordStoreOperation("memory", "set", true)
	return nil
}

func (m *Memory) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		monitoring.RecordStoreOperation("memory", "get", false)
		return "", false, err
	}
	m.mu.RLock()
	v, ok := m.items[key]
	m.mu.RUnlock()
	monitoring.RecordStoreOperation("memory", "get", true)
	return v, ok, nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
