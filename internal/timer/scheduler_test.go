package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(Config{Workers: 2, Queue: 8}, zap.NewNop())
	s.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestAfter_Fires(t *testing.T) {
	s := newTestScheduler(t)
	var n atomic.Int32
	h := s.After(5*time.Millisecond, "fire", func(context.Context) { n.Add(1) })

	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, time.Millisecond)
	require.False(t, h.Cancel(), "cancel after firing must report false")
}

func TestAfter_CancelBeforeFire(t *testing.T) {
	s := newTestScheduler(t)
	var n atomic.Int32
	h := s.After(30*time.Millisecond, "cancelled", func(context.Context) { n.Add(1) })

	require.True(t, h.Cancel())
	require.False(t, h.Cancel(), "second cancel is a no-op")
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(0), n.Load())
	require.Equal(t, 0, s.Pending())
}

func TestEvery_RunsUntilCancelled(t *testing.T) {
	s := newTestScheduler(t)
	var n atomic.Int32
	h := s.Every(5*time.Millisecond, "tick", func(context.Context) { n.Add(1) })

	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
	h.Cancel()
	seen := n.Load()
	time.Sleep(30 * time.Millisecond)
	require.LessOrEqual(t, n.Load(), seen+1, "at most one in-flight run after cancel")
}

func TestJobPanicIsIsolated(t *testing.T) {
	s := newTestScheduler(t)
	var ok atomic.Bool
	s.After(time.Millisecond, "boom", func(context.Context) { panic("boom") })
	s.After(5*time.Millisecond, "after-boom", func(context.Context) { ok.Store(true) })

	require.Eventually(t, ok.Load, time.Second, time.Millisecond)
	require.Equal(t, int64(1), s.panics.Load())
}

func TestStop_CancelsPendingAndRejectsNew(t *testing.T) {
	s := New(Config{Workers: 1}, zap.NewNop())
	s.Start()
	var n atomic.Int32
	s.After(50*time.Millisecond, "late", func(context.Context) { n.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	h := s.After(time.Millisecond, "after-stop", func(context.Context) { n.Add(1) })
	require.True(t, h.Cancelled())
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int32(0), n.Load())
	require.False(t, s.Running())
}

func TestRunDetached_RefusedAfterStop(t *testing.T) {
	s := New(Config{Workers: 1, Queue: 1}, zap.NewNop())
	s.Start()
	require.NoError(t, s.Stop(context.Background()))

	var n atomic.Int32
	h := &Handle{id: 1, name: "late", fn: func(context.Context) { n.Add(1) }, s: s}
	require.False(t, s.runDetached(h))
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, n.Load())
}

func TestStop_WhileQueueOverflows(t *testing.T) {
	for round := 0; round < 20; round++ {
		s := New(Config{Workers: 1, Queue: 1}, zap.NewNop())
		s.Start()
		release := make(chan struct{})
		var n atomic.Int32
		for i := 0; i < 32; i++ {
			s.After(time.Millisecond, "burst", func(ctx context.Context) {
				n.Add(1)
				select {
				case <-release:
				case <-ctx.Done():
				}
			})
		}
		time.Sleep(time.Duration(round%4) * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		close(release)
		require.NoError(t, s.Stop(ctx), "round %d", round)
		cancel()

		after := n.Load()
		time.Sleep(5 * time.Millisecond)
		require.Equal(t, after, n.Load(), "job ran after Stop returned (round %d)", round)
	}
}
