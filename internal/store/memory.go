package store

import (
	"container/list"
	"context"
	"sync"

	"github.com/MrWong99/sinfonia/pkg/lyrics"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process [Store] with least-recently-used eviction.
type Memory struct {
	max int

	mu    sync.Mutex
	order *list.List // front is most recently used; values are Key
	items map[Key]memoryItem
}

type memoryItem struct {
	analysis *lyrics.Analysis
	elem     *list.Element
}

// NewMemory creates a Memory store holding at most maxEntries analyses.
// A non-positive maxEntries means no limit.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		max:   maxEntries,
		order: list.New(),
		items: make(map[Key]memoryItem),
	}
}

// Get implements [Store].
func (m *Memory) Get(_ context.Context, key Key) (*lyrics.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	m.order.MoveToFront(it.elem)
	return it.analysis, nil
}

// Put implements [Store].
func (m *Memory) Put(_ context.Context, key Key, a *lyrics.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[key]; ok {
		it.analysis = a
		m.items[key] = it
		m.order.MoveToFront(it.elem)
		return nil
	}
	m.items[key] = memoryItem{analysis: a, elem: m.order.PushFront(key)}
	for m.max > 0 && m.order.Len() > m.max {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(Key))
	}
	return nil
}

// Delete implements [Store].
func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[key]; ok {
		m.order.Remove(it.elem)
		delete(m.items, key)
	}
	return nil
}

// Len returns the number of cached analyses.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close drops every entry.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	clear(m.items)
	return nil
}
