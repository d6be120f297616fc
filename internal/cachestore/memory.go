package cachestore

import (
	"context"
	"sort"
	"sync"
)

// Memory is a process-local Storage. It is used by tests and by the `memory`
// backend for throwaway deployments.
type Memory struct {
	mu  sync.Mutex
	nss map[string]*memoryCache
}

func NewMemory() *Memory {
	return &Memory{nss: map[string]*memoryCache{}}
}

func (m *Memory) Open(_ context.Context, name string) (Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.nss[name]
	if !ok {
		c = &memoryCache{items: map[string]Entry{}}
		m.nss[name] = c
	}
	return c, nil
}

func (m *Memory) Names(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.nss))
	for name := range m.nss {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nss[name]; !ok {
		return false, nil
	}
	delete(m.nss, name)
	return true, nil
}

func (m *Memory) Close() error { return nil }

type memoryCache struct {
	mu    sync.RWMutex
	items map[string]Entry
}

func (c *memoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	return ent.Clone(), true, nil
}

func (c *memoryCache) Meta(_ context.Context, key string) (Meta, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.items[key]
	if !ok {
		return Meta{}, false, nil
	}
	return metaOf(ent), true, nil
}

func (c *memoryCache) Put(_ context.Context, ent Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[ent.Key] = ent.Clone()
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return false, nil
	}
	delete(c.items, key)
	return true, nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for k := range c.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
