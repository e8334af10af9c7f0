package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUProvider is an in-process Provider bounded by entry count. Every entry lives
// for the provider TTL; the per-call ttl passed to Set is not honoured.
type LRUProvider struct {
	entries *expirable.LRU[string, []byte]
	ttl     time.Duration
}

// NewLRUProvider creates a provider holding at most size entries. A non-positive
// ttl keeps entries until they are evicted.
func NewLRUProvider(size int, ttl time.Duration) (*LRUProvider, error) {
	if size <= 0 {
		return nil, fmt.Errorf("lru cache size must be positive, got %d", size)
	}
	if ttl < 0 {
		ttl = 0
	}
	return &LRUProvider{
		entries: expirable.NewLRU[string, []byte](size, nil, ttl),
		ttl:     ttl,
	}, nil
}

// Get returns a copy of the cached bytes or ErrCacheMiss when absent or expired.
func (p *LRUProvider) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := p.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a copy of value.
func (p *LRUProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	p.entries.Add(key, stored)
	return nil
}

// Del removes key.
func (p *LRUProvider) Del(_ context.Context, key string) error {
	p.entries.Remove(key)
	return nil
}

// Len reports the number of live entries.
func (p *LRUProvider) Len() int { return p.entries.Len() }

// TTL reports the lifetime applied to every entry.
func (p *LRUProvider) TTL() time.Duration { return p.ttl }

// Close purges the cache.
func (p *LRUProvider) Close() error {
	p.entries.Purge()
	return nil
}
