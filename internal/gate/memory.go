package gate

import (
	"context"
	"hash/maphash"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const lockStripes = 64

// MemoryStore is a single-process Store. Marks live in a TTL cache so idle
// keys are evicted; a striped mutex makes each claim atomic per key.
type MemoryStore struct {
	marks *cache.Cache
	ttl   time.Duration
	seed  maphash.Seed
	locks [lockStripes]sync.Mutex
}

// NewMemoryStore returns a store that keeps marks for at least retain
func NewMemoryStore(retain time.Duration) *MemoryStore {
	if retain <= 0 {
		retain = DefaultCooldown
	}
	// marks outlive the window so a slightly skewed now still sees them
	ttl := retain * 2
	return &MemoryStore{
		marks: cache.New(ttl, ttl),
		ttl:   ttl,
		seed:  maphash.MakeSeed(),
	}
}

func (m *MemoryStore) lock(key string) *sync.Mutex {
	return &m.locks[maphash.String(m.seed, key)%lockStripes]
}

// Claim implements Store
func (m *MemoryStore) Claim(_ context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	mu := m.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if v, found := m.marks.Get(key); found {
		if last, ok := v.(time.Time); ok && now.Sub(last) < window {
			return false, nil
		}
	}
	m.marks.Set(key, now, m.ttl)
	return true, nil
}

// LastFired implements Store
func (m *MemoryStore) LastFired(_ context.Context, key string) (time.Time, bool, error) {
	v, found := m.marks.Get(key)
	if !found {
		return time.Time{}, false, nil
	}
	last, ok := v.(time.Time)
	return last, ok, nil
}

// Record implements Store
func (m *MemoryStore) Record(_ context.Context, key string, now time.Time) error {
	mu := m.lock(key)
	mu.Lock()
	defer mu.Unlock()
	m.marks.Set(key, now, m.ttl)
	return nil
}

// Release implements Store
func (m *MemoryStore) Release(_ context.Context, key string, firedAt time.Time) error {
	mu := m.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if v, found := m.marks.Get(key); found {
		if last, ok := v.(time.Time); ok && last.Equal(firedAt) {
			m.marks.Delete(key)
		}
	}
	return nil
}

// Len returns the number of live marks
func (m *MemoryStore) Len() int {
	return m.marks.ItemCount()
}
