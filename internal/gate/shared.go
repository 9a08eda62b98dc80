package gate

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/logger"
)

// CooldownRepository is the part of the datastore backing SharedStore
type CooldownRepository interface {
	TryCooldown(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
	CooldownFiredAt(ctx context.Context, key string) (time.Time, bool, error)
	RecordCooldown(ctx context.Context, key string, now time.Time) error
	ReleaseCooldown(ctx context.Context, key string, firedAt time.Time) error
	PruneCooldowns(ctx context.Context, before time.Time) (int64, error)
}

// SharedStore keeps marks in the SQL database so several processes share
// one cooldown table.
type SharedStore struct {
	repo CooldownRepository

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSharedStore returns a store over repo
func NewSharedStore(repo CooldownRepository) *SharedStore {
	return &SharedStore{repo: repo}
}

// Claim implements Store
func (s *SharedStore) Claim(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	return s.repo.TryCooldown(ctx, key, now, window)
}

// LastFired implements Store
func (s *SharedStore) LastFired(ctx context.Context, key string) (time.Time, bool, error) {
	return s.repo.CooldownFiredAt(ctx, key)
}

// Record implements Store
func (s *SharedStore) Record(ctx context.Context, key string, now time.Time) error {
	return s.repo.RecordCooldown(ctx, key, now)
}

// Release implements Store
func (s *SharedStore) Release(ctx context.Context, key string, firedAt time.Time) error {
	return s.repo.ReleaseCooldown(ctx, key, firedAt)
}

// StartJanitor deletes marks older than retain every interval until Stop
func (s *SharedStore) StartJanitor(interval, retain time.Duration) {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case now := <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				n, err := s.repo.PruneCooldowns(ctx, now.Add(-retain))
				cancel()
				if err != nil {
					GetLogger().Warn("cooldown prune failed", logger.Error(err))
					continue
				}
				if n > 0 {
					GetLogger().Debug("cooldown marks pruned", logger.Int64("count", n))
				}
			}
		}
	}()
}

// Stop ends the janitor and waits for it
func (s *SharedStore) Stop() {
	if s.stop == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// NewStore returns the backend named by backend: conf.CooldownBackendDatabase
// selects SharedStore over repo, anything else the in-memory store.
func NewStore(backend string, repo CooldownRepository, window time.Duration) Store {
	if backend == conf.CooldownBackendDatabase && repo != nil {
		return NewSharedStore(repo)
	}
	return NewMemoryStore(window)
}
