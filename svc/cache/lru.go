package cache

import (
	"errors"
	"pastebin/pkg/domain"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is the in-process first-level paste cache. Entries carry their own
// expiry so a paste never outlives its TTL here.
type LRU struct {
	c   *lru.Cache[string, item]
	mu  sync.Mutex
	now func() time.Time
}
type item struct {
	paste domain.Paste
	exp   time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c, now: time.Now}, nil
}

// Get returns a copy so callers cannot mutate the cached value.
func (l *LRU) Get(id string) (*domain.Paste, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(id)
	if !ok {
		return nil, false
	}
	if !l.now().Before(it.exp) {
		l.c.Remove(id)
		return nil, false
	}
	p := it.paste
	return &p, true
}
func (l *LRU) Set(p *domain.Paste, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(p.ID, item{paste: *p, exp: l.now().Add(ttl)})
}
func (l *LRU) Delete(ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		l.c.Remove(id)
	}
}
func (l *LRU) Len() int {
	return l.c.Len()
}
