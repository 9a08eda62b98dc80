package gate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/errors"
)

func TestPassesThresholdBoundary(t *testing.T) {
	t.Parallel()

	threshold := 0.5
	below := math.Nextafter(threshold, 0)
	nan := math.NaN()
	high := 0.92
	low := 0.3

	tests := []struct {
		name     string
		prob     *float64
		explicit bool
		want     bool
	}{
		{"equal passes", &threshold, false, true},
		{"one ulp below fails", &below, false, false},
		{"above", &high, false, true},
		{"below", &low, false, false},
		{"below even with explicit label", &low, true, false},
		{"absent with explicit label", nil, true, true},
		{"absent model output", nil, false, false},
		{"nan", &nan, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Passes(tt.prob, threshold, tt.explicit))
		})
	}
}

func TestCooldownWindow(t *testing.T) {
	t.Parallel()

	gate := NewCooldown(NewMemoryStore(5*time.Second), 5*time.Second)
	ctx := context.Background()
	t0 := time.Now()

	fired, err := gate.TryFire(ctx, "D1", "goat", t0)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = gate.TryFire(ctx, "D1", "goat", t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, fired, "second detection inside the window")

	fired, err = gate.TryFire(ctx, "D1", "roe deer", t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, fired, "different species")

	fired, err = gate.TryFire(ctx, "D2", "goat", t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, fired, "different device")

	fired, err = gate.TryFire(ctx, "D1", "goat", t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.True(t, fired, "window elapsed")
}

func TestShouldFireAndRecordFire(t *testing.T) {
	t.Parallel()

	gate := NewCooldown(NewMemoryStore(0), 0)
	assert.Equal(t, DefaultCooldown, gate.Window())
	ctx := context.Background()
	t0 := time.Now()

	ok, err := gate.ShouldFire(ctx, "D1", "goat", t0)
	require.NoError(t, err)
	assert.True(t, ok, "no prior record")

	require.NoError(t, gate.RecordFire(ctx, "D1", "goat", t0))

	ok, err = gate.ShouldFire(ctx, "D1", "goat", t0.Add(4*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = gate.ShouldFire(ctx, "D1", "goat", t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseReturnsSlot(t *testing.T) {
	t.Parallel()

	gate := NewCooldown(NewMemoryStore(5*time.Second), 5*time.Second)
	ctx := context.Background()
	t0 := time.Now()

	fired, err := gate.TryFire(ctx, "D1", "goat", t0)
	require.NoError(t, err)
	require.True(t, fired)

	require.NoError(t, gate.Release(ctx, "D1", "goat", t0))

	fired, err = gate.TryFire(ctx, "D1", "goat", t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, fired, "released slot fires again inside the window")

	// releasing the old claim must not drop the newer one
	require.NoError(t, gate.Release(ctx, "D1", "goat", t0))
	fired, err = gate.TryFire(ctx, "D1", "goat", t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestTryFireExclusive(t *testing.T) {
	t.Parallel()

	gate := NewCooldown(NewMemoryStore(5*time.Second), 5*time.Second)
	now := time.Now()

	const workers = 64
	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every call lands inside one window
			at := now.Add(time.Duration(i) * time.Millisecond)
			ok, err := gate.TryFire(context.Background(), "D1", "goat", at)
			assert.NoError(t, err)
			if ok {
				fired.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), fired.Load())
}

func TestTryFireManyKeys(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Minute)
	gate := NewCooldown(store, time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := gate.TryFire(context.Background(), fmt.Sprintf("cam-%d", i), "goat", now)
			assert.NoError(t, err)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 200, store.Len())
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) TryCooldown(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, now, window)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) CooldownFiredAt(ctx context.Context, key string) (time.Time, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func (m *mockRepo) RecordCooldown(ctx context.Context, key string, now time.Time) error {
	return m.Called(ctx, key, now).Error(0)
}

func (m *mockRepo) ReleaseCooldown(ctx context.Context, key string, firedAt time.Time) error {
	return m.Called(ctx, key, firedAt).Error(0)
}

func (m *mockRepo) PruneCooldowns(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func TestSharedStoreDelegates(t *testing.T) {
	t.Parallel()

	repo := &mockRepo{}
	now := time.Now()
	repo.On("TryCooldown", mock.Anything, "D1|goat", now, 5*time.Second).Return(true, nil).Once()
	repo.On("TryCooldown", mock.Anything, "D1|goat", now, 5*time.Second).Return(false, errors.NewStd("deadlock")).Once()
	repo.On("ReleaseCooldown", mock.Anything, "D1|goat", now).Return(nil).Once()

	gate := NewCooldown(NewStore(conf.CooldownBackendDatabase, repo, 5*time.Second), 5*time.Second)

	fired, err := gate.TryFire(context.Background(), "D1", "goat", now)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = gate.TryFire(context.Background(), "D1", "goat", now)
	require.Error(t, err)
	assert.False(t, fired)
	assert.True(t, errors.IsCategory(err, errors.CategoryCooldown))

	require.NoError(t, gate.Release(context.Background(), "D1", "goat", now))
	repo.AssertExpectations(t)
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	t.Parallel()

	_, isMemory := NewStore(conf.CooldownBackendMemory, &mockRepo{}, time.Second).(*MemoryStore)
	assert.True(t, isMemory)
	_, isMemory = NewStore(conf.CooldownBackendDatabase, nil, time.Second).(*MemoryStore)
	assert.True(t, isMemory, "database backend without a repository")
}

func TestSharedStoreJanitor(t *testing.T) {
	t.Parallel()

	repo := &mockRepo{}
	pruned := make(chan struct{}, 1)
	repo.On("PruneCooldowns", mock.Anything, mock.AnythingOfType("time.Time")).
		Return(int64(2), nil).
		Run(func(mock.Arguments) {
			select {
			case pruned <- struct{}{}:
			default:
			}
		})

	store := NewSharedStore(repo)
	store.StartJanitor(10*time.Millisecond, time.Minute)

	select {
	case <-pruned:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not prune")
	}
	store.Stop()
	store.Stop()
}
