package secrets

import (
	"bytes"
	"context"
	"hash/fnv"
	"pastebin/svc/util"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type resolver interface {
	Resolve(ctx context.Context, name string) ([]byte, error)
}

// Cache keeps resolved secrets for a TTL. Concurrent misses for the same
// name share one provider call.
type Cache struct {
	src     resolver
	ttl     time.Duration
	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*cachedSecret
	stopped bool
	stop    chan struct{}
}

type cachedSecret struct {
	value     []byte
	expiresAt time.Time
}

func NewCache(src resolver, ttl time.Duration) *Cache {
	return &Cache{
		src:     src,
		ttl:     ttl,
		entries: map[string]*cachedSecret{},
		stop:    make(chan struct{}),
	}
}

// Get returns a copy the caller may wipe.
func (c *Cache) Get(ctx context.Context, name string) ([]byte, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrProviderUnavailable
	}
	if e, ok := c.entries[name]; ok && time.Now().Before(e.expiresAt) {
		v := clone(e.value)
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	res, err, _ := c.group.Do(name, func() (interface{}, error) {
		v, err := c.src.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if old, ok := c.entries[name]; ok {
			util.Wipe(old.value)
		}
		c.entries[name] = &cachedSecret{value: clone(v), expiresAt: time.Now().Add(c.ttl + jitter(name, c.ttl/10))}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(res.([]byte)), nil
}

// Watch re-resolves name every TTL and calls onChange when the value
// differs from the last one seen. It returns when ctx ends or the cache stops.
func (c *Cache) Watch(ctx context.Context, name string, onChange func([]byte)) {
	last, _ := c.Get(ctx, name)
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.invalidate(name)
			v, err := c.Get(ctx, name)
			if err != nil {
				continue
			}
			if last != nil && !bytes.Equal(last, v) {
				onChange(clone(v))
			}
			util.Wipe(last)
			last = v
		}
	}
}
func (c *Cache) invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[name]; ok {
		util.Wipe(e.value)
		delete(c.entries, name)
	}
}

// Stop wipes every cached value.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stop)
	for k, e := range c.entries {
		util.Wipe(e.value)
		delete(c.entries, k)
	}
}
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// jitter spreads expiry of different names so they do not refresh together.
func jitter(name string, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	return time.Duration(h.Sum64() % uint64(max))
}
func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
