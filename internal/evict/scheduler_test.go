package evict_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/media_cache/internal/content"
	"github.com/italolelis/media_cache/internal/evict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_FiresAfterTTL(t *testing.T) {
	fired := make(chan content.Key, 1)

	s := evict.NewScheduler(context.Background(), 20*time.Millisecond, func(ctx context.Context, key content.Key) error {
		fired <- key

		return nil
	})
	defer s.Shutdown()

	key := content.Key{MovieID: "m1", Source: "YTS"}
	s.Schedule(key)
	assert.Equal(t, 1, s.Len())

	select {
	case got := <-fired:
		assert.Equal(t, key, got)
	case <-time.After(time.Second):
		t.Fatal("expiry callback never fired")
	}

	// The job removes its own registry entry when it fires.
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSchedule_ResetOnAccess(t *testing.T) {
	var fires atomic.Int32

	firstFireAfter := make(chan time.Time, 1)

	s := evict.NewScheduler(context.Background(), 60*time.Millisecond, func(ctx context.Context, key content.Key) error {
		if fires.Add(1) == 1 {
			firstFireAfter <- time.Now()
		}

		return nil
	})
	defer s.Shutdown()

	key := content.Key{MovieID: "m1", Source: "YTS"}

	start := time.Now()
	s.Schedule(key)

	// Reschedule well before the first countdown elapses; only the second
	// timer may fire, a full TTL after the reschedule point.
	time.Sleep(30 * time.Millisecond)
	rescheduledAt := time.Now()
	s.Schedule(key)
	assert.Equal(t, 1, s.Len())

	select {
	case firedAt := <-firstFireAfter:
		require.GreaterOrEqual(t, firedAt.Sub(rescheduledAt), 50*time.Millisecond,
			"timer fired relative to the original Schedule at %s, not the reschedule", firedAt.Sub(start))
	case <-time.After(time.Second):
		t.Fatal("expiry callback never fired")
	}

	// Give any spurious first timer a chance to fire before asserting.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, fires.Load(), "only the rescheduled timer may fire")
}

func TestCancel_BeforeFire(t *testing.T) {
	var fires atomic.Int32

	s := evict.NewScheduler(context.Background(), 30*time.Millisecond, func(ctx context.Context, key content.Key) error {
		fires.Add(1)

		return nil
	})
	defer s.Shutdown()

	key := content.Key{MovieID: "m1", Source: "YTS"}
	s.Schedule(key)
	s.Cancel(key)
	assert.Equal(t, 0, s.Len())

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 0, fires.Load(), "canceled job must never expire")
}

func TestCancel_AbsentKeyIsNoop(t *testing.T) {
	s := evict.NewScheduler(context.Background(), time.Minute, func(ctx context.Context, key content.Key) error {
		return nil
	})
	defer s.Shutdown()

	s.Cancel(content.Key{MovieID: "never-scheduled", Source: "YTS"})
	assert.Equal(t, 0, s.Len())
}

func TestSchedule_ConcurrentSameKey(t *testing.T) {
	var fires atomic.Int32

	s := evict.NewScheduler(context.Background(), 50*time.Millisecond, func(ctx context.Context, key content.Key) error {
		fires.Add(1)

		return nil
	})
	defer s.Shutdown()

	key := content.Key{MovieID: "m1", Source: "YTS"}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.Schedule(key)
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, s.Len(), "same key must collapse to one job")

	assert.Eventually(t, func() bool { return fires.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	assert.EqualValues(t, 1, fires.Load(), "exactly one timer survives the races")
}

func TestSchedule_IndependentKeys(t *testing.T) {
	fired := make(chan content.Key, 2)

	s := evict.NewScheduler(context.Background(), 20*time.Millisecond, func(ctx context.Context, key content.Key) error {
		fired <- key

		return nil
	})
	defer s.Shutdown()

	s.Schedule(content.Key{MovieID: "m1", Source: "YTS"})
	s.Schedule(content.Key{MovieID: "m2", Source: "POPCORN"})
	assert.Equal(t, 2, s.Len())

	got := map[string]bool{}

	for i := 0; i < 2; i++ {
		select {
		case key := <-fired:
			got[key.String()] = true
		case <-time.After(time.Second):
			t.Fatal("missing expiry")
		}
	}

	assert.True(t, got["m1:YTS"])
	assert.True(t, got["m2:POPCORN"])
}

func TestShutdown_StopsAllTimers(t *testing.T) {
	var fires atomic.Int32

	s := evict.NewScheduler(context.Background(), 20*time.Millisecond, func(ctx context.Context, key content.Key) error {
		fires.Add(1)

		return nil
	})

	s.Schedule(content.Key{MovieID: "m1", Source: "YTS"})
	s.Schedule(content.Key{MovieID: "m2", Source: "YTS"})
	s.Shutdown()
	assert.Equal(t, 0, s.Len())

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 0, fires.Load())
}
