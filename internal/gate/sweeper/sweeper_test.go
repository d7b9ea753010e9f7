package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/gate/code"
	"github.com/dropDatabas3/lobbygate/internal/gate/session"
	"github.com/dropDatabas3/lobbygate/internal/timer"
)

type fakeCodes struct {
	expired, pruned, flushed, history atomic.Int32
	flushErr                          error
	notReady                          bool
	panicOnExpire                     bool
}

func (f *fakeCodes) ExpireCodes(time.Time) int {
	if f.panicOnExpire {
		panic("expire exploded")
	}
	f.expired.Add(1)
	return 2
}
func (f *fakeCodes) PruneLimits(time.Time) int { f.pruned.Add(1); return 1 }
func (f *fakeCodes) FlushReplay(context.Context) (int, error) {
	f.flushed.Add(1)
	return 0, f.flushErr
}
func (f *fakeCodes) PruneHistory(context.Context, time.Time) (int, error) {
	f.history.Add(1)
	return 3, nil
}
func (f *fakeCodes) Initialized() bool { return !f.notReady }

type fakeSessions struct {
	cleanups atomic.Int32
	block    chan struct{}
}

func (f *fakeSessions) Cleanup(context.Context) session.CleanupReport {
	if f.block != nil {
		<-f.block
	}
	f.cleanups.Add(1)
	return session.CleanupReport{Expired: 4, ArchivePruned: 1}
}
func (f *fakeSessions) Initialized() bool { return true }

type fakeCache struct{ n atomic.Int32 }

func (f *fakeCache) DeleteExpired() { f.n.Add(1) }

func busy(s *Sweeper) bool {
	if s.run.TryLock() {
		s.run.Unlock()
		return false
	}
	return true
}

func newSweeper(t *testing.T, cfg Config, targets Targets) (*Sweeper, *timer.Scheduler, *audit.Log) {
	t.Helper()
	timers := timer.New(timer.Config{Workers: 2}, zap.NewNop())
	timers.Start()
	a := audit.New(audit.Config{MaxEntries: 1000}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = timers.Stop(ctx)
		a.Close()
	})
	return New(cfg, targets, timers, a, zap.NewNop()), timers, a
}

func TestRun_FastMediumSlow(t *testing.T) {
	codes, sessions, c := &fakeCodes{}, &fakeSessions{}, &fakeCache{}
	s, _, a := newSweeper(t, Config{}, Targets{Codes: codes, Sessions: sessions, Caches: []Expirer{c}})
	ctx := context.Background()

	res := s.Run(ctx, Fast)
	require.True(t, res.OK, res.Error)
	assert.Equal(t, 3, res.Removed)
	assert.Equal(t, 2, res.Items["codes_expired"])
	assert.EqualValues(t, 1, codes.flushed.Load())
	assert.Zero(t, c.n.Load(), "caches are purged by the medium sweep only")

	res = s.Run(ctx, Medium)
	require.True(t, res.OK)
	assert.Equal(t, 5, res.Removed)
	assert.EqualValues(t, 1, sessions.cleanups.Load())
	assert.EqualValues(t, 1, c.n.Load())

	res = s.Run(ctx, Slow)
	require.True(t, res.OK, res.Error)
	assert.Equal(t, 3, res.Items["replay_pruned"])

	stats := s.Stats()
	require.Len(t, stats, 3)
	assert.Equal(t, []Kind{Fast, Medium, Slow}, []Kind{stats[0].Kind, stats[1].Kind, stats[2].Kind})
	assert.Len(t, a.Filter("sweeper", 0), 3)
	assert.EqualValues(t, 1, s.Totals()[Medium].Runs)
}

func TestRun_FailuresAreReported(t *testing.T) {
	codes := &fakeCodes{flushErr: errors.New("redis down"), notReady: true}
	checkErr := errors.New("pg unreachable")
	s, _, _ := newSweeper(t, Config{}, Targets{
		Codes:  codes,
		Checks: []Check{{Name: "postgres", Fn: func(context.Context) error { return checkErr }}},
	})
	ctx := context.Background()

	res := s.Run(ctx, Fast)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "redis down")
	assert.Equal(t, 2, res.Items["codes_expired"])

	res = s.Run(ctx, Slow)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "code service not initialized")
	assert.Contains(t, res.Error, "postgres: pg unreachable")
	assert.EqualValues(t, 2, s.Totals()[Fast].Failures+s.Totals()[Slow].Failures)
}

func TestRun_PanicIsIsolated(t *testing.T) {
	codes := &fakeCodes{panicOnExpire: true}
	s, _, _ := newSweeper(t, Config{}, Targets{Codes: codes})

	res := s.Run(context.Background(), Fast)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "expire exploded")

	codes.panicOnExpire = false
	assert.True(t, s.Run(context.Background(), Fast).OK)
}

func TestStats_WindowIsBounded(t *testing.T) {
	s, _, _ := newSweeper(t, Config{StatsWindow: 5}, Targets{})
	for i := 0; i < 12; i++ {
		s.Run(context.Background(), Fast)
	}
	assert.Len(t, s.Stats(), 5)
	assert.EqualValues(t, 12, s.Totals()[Fast].Runs)
}

func TestEmergency_RunsMediumSweep(t *testing.T) {
	sessions := &fakeSessions{}
	s, _, a := newSweeper(t, Config{}, Targets{Sessions: sessions})
	res := s.Emergency(context.Background(), "heap")
	assert.Equal(t, Emergency, res.Kind)
	assert.Equal(t, "heap", res.Reason)
	assert.EqualValues(t, 1, sessions.cleanups.Load())
	entries := a.Filter("sweeper", 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "heap", entries[0].Detail["reason"])
}

func TestMemoryPressure_TriggersEmergency(t *testing.T) {
	sessions := &fakeSessions{}
	s, _, _ := newSweeper(t, Config{MemoryPressureMB: 64, Fast: time.Hour}, Targets{Sessions: sessions})
	s.heap = func() uint64 { return 32 << 20 }
	s.checkPressure(context.Background())
	assert.Zero(t, sessions.cleanups.Load())

	s.heap = func() uint64 { return 65 << 20 }
	s.checkPressure(context.Background())
	s.checkPressure(context.Background())
	assert.EqualValues(t, 1, sessions.cleanups.Load())
}

func TestStart_RunsOnCadence(t *testing.T) {
	codes, sessions := &fakeCodes{}, &fakeSessions{}
	s, _, _ := newSweeper(t, Config{Fast: 10 * time.Millisecond, Medium: 20 * time.Millisecond, Slow: time.Hour}, Targets{Codes: codes, Sessions: sessions})
	s.Start()
	require.Eventually(t, func() bool {
		return codes.expired.Load() >= 2 && sessions.cleanups.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestShutdown_WaitsForInflightThenRunsFinal(t *testing.T) {
	codes := &fakeCodes{}
	sessions := &fakeSessions{block: make(chan struct{})}
	s, _, _ := newSweeper(t, Config{}, Targets{Codes: codes, Sessions: sessions})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(context.Background(), Medium)
	}()
	require.Eventually(t, func() bool { return busy(s) }, time.Second, time.Millisecond)

	errc := make(chan error, 1)
	go func() { errc <- s.Shutdown(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, codes.history.Load(), "final sweep must wait for the running one")

	close(sessions.block)
	require.NoError(t, <-errc)
	wg.Wait()

	stats := s.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, Final, stats[1].Kind)
	assert.EqualValues(t, 2, sessions.cleanups.Load())
	assert.EqualValues(t, 1, codes.history.Load())
	assert.EqualValues(t, 1, codes.flushed.Load())

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Len(t, s.Stats(), 2)
}

func TestShutdown_BoundedWait(t *testing.T) {
	sessions := &fakeSessions{block: make(chan struct{})}
	s, _, _ := newSweeper(t, Config{ShutdownWait: 30 * time.Millisecond}, Targets{Sessions: sessions})
	go s.Run(context.Background(), Medium)
	require.Eventually(t, func() bool { return busy(s) }, time.Second, time.Millisecond)

	err := s.Shutdown(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(sessions.block)
	s.Wait()
}

func TestFast_ExpiresRealCodes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	codes := code.New(code.Config{}, nil, nil, nil, nil, zap.NewNop()).WithClock(clock)
	_, err := codes.Generate("chatUser1", "player1", code.TierStandard)
	require.NoError(t, err)

	s, _, _ := newSweeper(t, Config{}, Targets{Codes: codes})
	s.WithClock(clock)
	assert.Zero(t, s.Run(context.Background(), Fast).Items["codes_expired"])

	now = now.Add(11 * time.Minute)
	assert.Equal(t, 1, s.Run(context.Background(), Fast).Items["codes_expired"])
	assert.Zero(t, codes.Outstanding())
}
