package mediabatch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the ephemeral store behind batch ledgers. Get returns nil, nil
// on a miss; entries expire on their own after the write's TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ----------------------------------------------------------------------------
// Redis
// ----------------------------------------------------------------------------

// RedisCache backs the ledger with Redis. Cmdable covers both single
// clients and clusters.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a Redis-backed cache. keyPrefix namespaces this
// subsystem's keys; empty means "mediabatch".
func NewRedisCache(client redis.Cmdable, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "mediabatch"
	}
	return &RedisCache{client: client, prefix: keyPrefix + ":"}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// ----------------------------------------------------------------------------
// In-memory
// ----------------------------------------------------------------------------

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a process-local Cache for development and tests. Expired
// entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = memoryEntry{value: stored, expiresAt: expiresAt}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// ----------------------------------------------------------------------------
// Request-scoped coalescing
// ----------------------------------------------------------------------------

type scopedEntry struct {
	value   []byte
	ttl     time.Duration
	dirty   bool
	deleted bool
}

// Scoped wraps a Cache for the duration of one request or task: reads are
// served from a local overlay after the first fetch and writes are held
// back until Flush, so a handler touching the same ledger repeatedly costs
// one round trip each way. Not safe for concurrent use; one Scoped per
// request scope.
type Scoped struct {
	inner   Cache
	overlay map[string]*scopedEntry
}

var _ Cache = (*Scoped)(nil)

// NewScoped wraps inner with a request-scoped overlay.
func NewScoped(inner Cache) *Scoped {
	return &Scoped{inner: inner, overlay: make(map[string]*scopedEntry)}
}

func (s *Scoped) Get(ctx context.Context, key string) ([]byte, error) {
	if entry, ok := s.overlay[key]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	val, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.overlay[key] = &scopedEntry{value: val}
	return val, nil
}

func (s *Scoped) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.overlay[key] = &scopedEntry{value: value, ttl: ttl, dirty: true}
	return nil
}

func (s *Scoped) Delete(_ context.Context, key string) error {
	s.overlay[key] = &scopedEntry{deleted: true, dirty: true}
	return nil
}

// Flush applies the overlay's pending writes to the underlying cache.
// Call once at the end of the scope.
func (s *Scoped) Flush(ctx context.Context) error {
	for key, entry := range s.overlay {
		if !entry.dirty {
			continue
		}
		if entry.deleted {
			if err := s.inner.Delete(ctx, key); err != nil {
				return err
			}
		} else if err := s.inner.Set(ctx, key, entry.value, entry.ttl); err != nil {
			return err
		}
		entry.dirty = false
	}
	return nil
}
