package gate

import (
	"context"
	"time"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
)

// DefaultCooldown is the window used when none is configured
const DefaultCooldown = 5 * time.Second

// Store keeps the last fire time per key. Claim must be atomic: for one key,
// two concurrent claims inside the window cannot both succeed.
type Store interface {
	Claim(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
	LastFired(ctx context.Context, key string) (time.Time, bool, error)
	Record(ctx context.Context, key string, now time.Time) error
	// Release drops the mark for key only while it still holds firedAt
	Release(ctx context.Context, key string, firedAt time.Time) error
}

// Cooldown suppresses repeat reports for the same device and species inside
// a time window. Failing the gate is a normal outcome, not an error.
type Cooldown struct {
	store  Store
	window time.Duration
}

// NewCooldown returns a gate over store. A non-positive window uses
// DefaultCooldown.
func NewCooldown(store Store, window time.Duration) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &Cooldown{store: store, window: window}
}

// Key builds the cooldown key for a device and a normalized species
func Key(device, species string) string {
	return device + "|" + species
}

// Window returns the configured cooldown window
func (c *Cooldown) Window() time.Duration {
	return c.window
}

// ShouldFire reports whether nothing fired for the key within the window.
// It does not record anything; use TryFire when the answer must be acted
// on.
func (c *Cooldown) ShouldFire(ctx context.Context, device, species string, now time.Time) (bool, error) {
	last, ok, err := c.store.LastFired(ctx, Key(device, species))
	if err != nil {
		return false, c.wrap(err, device, species, "should-fire")
	}
	return !ok || now.Sub(last) >= c.window, nil
}

// RecordFire stores now as the last fire time for the key
func (c *Cooldown) RecordFire(ctx context.Context, device, species string, now time.Time) error {
	if err := c.store.Record(ctx, Key(device, species), now); err != nil {
		return c.wrap(err, device, species, "record-fire")
	}
	return nil
}

// TryFire is ShouldFire and RecordFire as one critical section. It returns
// true for exactly one caller per key and window.
func (c *Cooldown) TryFire(ctx context.Context, device, species string, now time.Time) (bool, error) {
	fired, err := c.store.Claim(ctx, Key(device, species), now, c.window)
	if err != nil {
		return false, c.wrap(err, device, species, "try-fire")
	}
	if !fired {
		GetLogger().Trace("cooldown active",
			logger.String("device", device),
			logger.String("species", species),
			logger.Duration("window", c.window))
	}
	return fired, nil
}

// Release returns a slot taken by TryFire at firedAt. A newer claim for the
// same key is left untouched.
func (c *Cooldown) Release(ctx context.Context, device, species string, firedAt time.Time) error {
	if err := c.store.Release(ctx, Key(device, species), firedAt); err != nil {
		return c.wrap(err, device, species, "release")
	}
	return nil
}

func (c *Cooldown) wrap(err error, device, species, op string) error {
	return errors.New(err).
		Component("gate").
		Category(errors.CategoryCooldown).
		Context("operation", op).
		Context("device", device).
		Context("species", species).
		Build()
}
