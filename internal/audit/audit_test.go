package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *memSink) Write(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *memSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestAppend_TimestampsStrictlyIncrease(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(Config{MaxEntries: 100}, zap.NewNop()).WithClock(func() time.Time { return frozen })

	var prev Entry
	for i := 0; i < 10; i++ {
		e := l.Record("player1", ActionCodeValidate, "NOT_FOUND", nil)
		if i > 0 {
			require.True(t, e.Time.After(prev.Time), "entry %d not after previous", i)
			require.Equal(t, prev.Seq+1, e.Seq)
		}
		require.NotEmpty(t, e.ID)
		prev = e
	}
}

func TestAppend_EvictsOldestAtCap(t *testing.T) {
	l := New(Config{MaxEntries: 3}, zap.NewNop())
	for i := 0; i < 5; i++ {
		l.Record("a", ActionSweep, "ok", map[string]any{"i": i})
	}
	recent := l.Recent(0)
	require.Len(t, recent, 3)
	require.Equal(t, uint64(3), recent[0].Seq)
	require.Equal(t, uint64(5), recent[2].Seq)

	_, evicted, _ := l.Stats()
	require.Equal(t, 2, evicted)
}

func TestPrune_ByAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := New(Config{MaxEntries: 100, MaxAge: time.Hour}, zap.NewNop()).WithClock(clock)

	l.Record("old", ActionSweep, "ok", nil)
	now = now.Add(2 * time.Hour)
	l.Record("new", ActionSweep, "ok", nil)

	require.Equal(t, 1, l.Prune(now))
	require.Equal(t, 1, l.Len())
	require.Equal(t, "new", l.Recent(1)[0].Actor)
}

func TestFilter_ByActor(t *testing.T) {
	l := New(Config{}, zap.NewNop())
	l.Record("p1", ActionSessionStart, "PURGATORY", nil)
	l.Record("p2", ActionSessionStart, "PURGATORY", nil)
	l.Record("p1", ActionSessionTransition, "QUARANTINE", nil)

	got := l.Filter("p1", 0)
	require.Len(t, got, 2)
	require.Equal(t, "PURGATORY", got[0].Status)
	require.Equal(t, "QUARANTINE", got[1].Status)
}

func TestSinks_ReceiveEntriesOnClose(t *testing.T) {
	sink := &memSink{}
	l := New(Config{BatchSize: 50}, zap.NewNop(), sink)
	for i := 0; i < 7; i++ {
		l.Record("p", ActionCodeIssue, "ok", nil)
	}
	l.Close()
	require.Equal(t, 7, sink.len())

	// después de Close sólo queda en memoria
	l.Record("p", ActionCodeIssue, "ok", nil)
	require.Equal(t, 7, sink.len())
	require.Equal(t, 8, l.Len())
}

func TestAppend_AtCapKeepsBackingArrayBounded(t *testing.T) {
	const max = 50
	l := New(Config{MaxEntries: max}, zap.NewNop())
	for i := 0; i < 20*max; i++ {
		l.Record("a", ActionSweep, "ok", map[string]any{"i": i})
		l.mu.Lock()
		size, capacity := len(l.entries), cap(l.entries)
		l.mu.Unlock()
		require.LessOrEqual(t, size, max)
		require.LessOrEqual(t, capacity, 4*max, "backing array grew unbounded at append %d", i)
	}

	recent := l.Recent(0)
	require.Len(t, recent, max)
	require.Equal(t, uint64(19*max+1), recent[0].Seq)
	require.Equal(t, uint64(20*max), recent[max-1].Seq)

	_, evicted, _ := l.Stats()
	require.Equal(t, 19*max, evicted)
}
