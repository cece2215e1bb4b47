package cache

import (
	"pastebin/pkg/domain"
	"testing"
	"time"
)

func TestLRUExpiry(t *testing.T) {
	c, err := NewLRU(10)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set(&domain.Paste{ID: "a", Title: "t"}, time.Minute)
	if p, ok := c.Get("a"); !ok || p.Title != "t" {
		t.Fatalf("miss on fresh entry")
	}
	now = now.Add(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("expired entry returned")
	}
	if c.Len() != 0 {
		t.Error("expired entry not removed")
	}
}

func TestLRUCopies(t *testing.T) {
	c, _ := NewLRU(10)
	p := &domain.Paste{ID: "a", Title: "orig"}
	c.Set(p, time.Minute)
	p.Title = "changed"
	got, _ := c.Get("a")
	got.Title = "again"
	if again, _ := c.Get("a"); again.Title != "orig" {
		t.Errorf("cached value mutated: %s", again.Title)
	}
}

func TestLRUEvictionAndDelete(t *testing.T) {
	c, _ := NewLRU(2)
	for _, id := range []string{"a", "b", "c"} {
		c.Set(&domain.Paste{ID: id}, time.Minute)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry not evicted")
	}
	c.Delete("b", "c")
	if c.Len() != 0 {
		t.Errorf("len = %d after delete", c.Len())
	}
	c.Set(&domain.Paste{ID: "z"}, 0)
	if _, ok := c.Get("z"); ok {
		t.Error("zero ttl entry cached")
	}
}

func TestNewLRUBounds(t *testing.T) {
	if _, err := NewLRU(0); err == nil {
		t.Error("zero size accepted")
	}
	if _, err := NewLRU(1 << 20); err == nil {
		t.Error("huge size accepted")
	}
}
