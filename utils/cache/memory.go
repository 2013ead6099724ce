package cache

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache used when REDIS_URL is empty and in tests
type Memory struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// NewMemory ...
func NewMemory() *Memory {
	return &Memory{items: make(map[string]entry), now: time.Now}
}

// Get ...
func (c *Memory) Get(_ context.Context, key string, out interface{}) (bool, error) {
	c.mu.Lock()
	e, ok := c.items[key]
	if ok && !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.items, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(e.value, out)
}

// Set ...
func (c *Memory) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	e := entry{value: b}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
	return nil
}

// Delete ...
func (c *Memory) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

// DeletePattern matches keys with glob semantics, like redis SCAN MATCH
func (c *Memory) DeletePattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.items, k)
		}
	}
	return nil
}

// Len returns the number of stored keys, expired or not
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// MemoryLocker is a process-local Locker
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]time.Time
	now    func() time.Time
}

// NewMemoryLocker ...
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]time.Time), now: time.Now}
}

// Acquire ...
func (l *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.leases[name]; ok && now.Before(exp) {
		return nil, ErrLockHeld
	}
	exp := now.Add(ttl)
	l.leases[name] = exp

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.leases[name] == exp {
			delete(l.leases, name)
		}
	}, nil
}
