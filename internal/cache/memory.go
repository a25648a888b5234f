package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memory is a bounded in-process LRU store
type Memory struct {
	entries *lru.Cache[string, Entry]
}

// NewMemory creates a Memory store holding at most size entries
func NewMemory(size int) (*Memory, error) {
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Memory{entries: entries}, nil
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	entry, ok := m.entries.Get(key)
	return entry, ok, nil
}

func (m *Memory) Set(_ context.Context, entry Entry) error {
	m.entries.Add(entry.Key, entry)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

// Len returns the number of stored entries, expired ones included
func (m *Memory) Len() int {
	return m.entries.Len()
}
