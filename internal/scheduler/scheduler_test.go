package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noJitter() time.Duration { return 0 }

func TestTriggerNowRunsTaskOnce(t *testing.T) {
	var count atomic.Int64
	s := New(nil, func(context.Context) error {
		count.Add(1)
		return nil
	}, time.Hour)

	require.NoError(t, s.TriggerNow(context.Background()))
	require.Equal(t, int64(1), count.Load())
	require.False(t, s.Running(), "TriggerNow must not start the loop")
}

func TestTriggerNowPropagatesError(t *testing.T) {
	boom := errors.New("provider down")
	s := New(nil, func(context.Context) error { return boom }, time.Hour)

	err := s.TriggerNow(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, s.FailureCount())

	// A subsequent success resets the counter.
	s2 := New(nil, func(context.Context) error { return nil }, time.Hour)
	require.NoError(t, s2.TriggerNow(context.Background()))
	require.Zero(t, s2.FailureCount())
}

func TestStartRunsImmediatelyThenOnInterval(t *testing.T) {
	var mu sync.Mutex
	var times []time.Time
	s := New(nil, func(context.Context) error {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return nil
	}, 30*time.Millisecond, WithMinInterval(30*time.Millisecond), WithJitter(noJitter))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(times) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, times[2].Sub(times[1]), 20*time.Millisecond)
}

func TestFailureBackoffExceedsNominalInterval(t *testing.T) {
	const interval = 40 * time.Millisecond
	var mu sync.Mutex
	var attempts []time.Time
	s := New(nil, func(context.Context) error {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()
		if n == 1 {
			return errors.New("transient")
		}
		return nil
	}, interval, WithMinInterval(interval), WithJitter(noJitter))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	gap := attempts[1].Sub(attempts[0])
	mu.Unlock()
	// After one failure the delay is interval * 2^1.
	require.GreaterOrEqual(t, gap, 2*interval-5*time.Millisecond)
}

func TestStopPreventsRescheduling(t *testing.T) {
	var count atomic.Int64
	s := New(nil, func(context.Context) error {
		count.Add(1)
		return nil
	}, 20*time.Millisecond, WithMinInterval(20*time.Millisecond), WithJitter(noJitter))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return count.Load() >= 1 }, time.Second, time.Millisecond)
	s.Stop()
	settled := count.Load()
	time.Sleep(100 * time.Millisecond)
	require.LessOrEqual(t, count.Load(), settled+1, "at most one in-flight run may finish after Stop")
	require.False(t, s.Running())
}

func TestSetPollIntervalKeepsArmedTimer(t *testing.T) {
	const (
		initial = 100 * time.Millisecond
		widened = 600 * time.Millisecond
	)
	var mu sync.Mutex
	var times []time.Time
	s := New(nil, func(context.Context) error {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return nil
	}, initial, WithMinInterval(initial), WithJitter(noJitter))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(times) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// Let the post-run reschedule arm the next tick before widening.
	time.Sleep(30 * time.Millisecond)
	s.SetPollInterval(widened)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(times) >= 3
	}, 3*time.Second, 5*time.Millisecond)

	mu.Lock()
	armedGap := times[1].Sub(times[0])
	widenedGap := times[2].Sub(times[1])
	mu.Unlock()

	// The already-armed tick keeps its original delay.
	require.Less(t, armedGap, widened-100*time.Millisecond)
	// The tick after it schedules on the widened interval.
	require.GreaterOrEqual(t, widenedGap, widened-50*time.Millisecond)
}

func TestBackoffDelayCappedAtFiveMinutes(t *testing.T) {
	s := New(nil, func(context.Context) error { return nil }, time.Minute, WithJitter(noJitter))
	s.failureCount = 10
	require.Equal(t, maxBackoff, s.nextDelayLocked())
}

func TestPollIntervalFloor(t *testing.T) {
	s := New(nil, func(context.Context) error { return nil }, time.Second)
	require.Equal(t, DefaultMinInterval, s.PollInterval())

	s.SetPollInterval(5 * time.Second)
	require.Equal(t, DefaultMinInterval, s.PollInterval())

	s.SetPollInterval(time.Minute)
	require.Equal(t, time.Minute, s.PollInterval())
}
