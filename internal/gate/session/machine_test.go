package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/cache"
	"github.com/dropDatabas3/lobbygate/internal/domain"
	"github.com/dropDatabas3/lobbygate/internal/gate/code"
	"github.com/dropDatabas3/lobbygate/internal/rate"
	"github.com/dropDatabas3/lobbygate/internal/store"
	"github.com/dropDatabas3/lobbygate/internal/timer"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyMembers falla mientras fail sea true.
type flakyMembers struct {
	*store.MemoryMembers
	fail atomic.Bool
}

func (f *flakyMembers) Upsert(ctx context.Context, m store.Member) error {
	if f.fail.Load() {
		return errors.New("db down")
	}
	return f.MemoryMembers.Upsert(ctx, m)
}

type harness struct {
	m       *Machine
	codes   *code.Service
	members *flakyMembers
	audit   *audit.Log
}

func newHarness(t *testing.T, cfg Config, now func() time.Time) *harness {
	t.Helper()
	timers := timer.New(timer.Config{Workers: 2}, zap.NewNop())
	timers.Start()
	a := audit.New(audit.Config{MaxEntries: 5000}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = timers.Stop(ctx)
		a.Close()
	})

	codes := code.New(code.Config{}, rate.NewSlidingWindow(100, time.Minute), nil, nil, a, zap.NewNop())
	members := &flakyMembers{MemoryMembers: store.NewMemoryMembers()}
	m := New(cfg, Deps{
		Codes:       codes,
		Members:     members,
		Timers:      timers,
		Audit:       a,
		MemberCache: cache.NewMemory("test", time.Minute),
	}, zap.NewNop())
	if now != nil {
		codes.WithClock(now)
		m.WithClock(now)
	}
	return &harness{m: m, codes: codes, members: members, audit: a}
}

func fastConfig() Config {
	return Config{
		PurgatoryWindow:  2 * time.Second,
		QuarantineWindow: 40 * time.Millisecond,
		PromotionDelay:   40 * time.Millisecond,
	}
}

func stateOf(t *testing.T, m *Machine, gameID string) State {
	t.Helper()
	st, err := m.State(context.Background(), gameID)
	require.NoError(t, err)
	return st
}

func TestStart_ValidCodeThenConnectEntersQuarantine(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	started, err := h.m.StartVerification(ctx, "player1", "chatUser1")
	require.NoError(t, err)
	require.Equal(t, Purgatory, started.Session.State)
	require.Equal(t, started.Session.CreatedAt.Add(10*time.Minute), started.Session.ExpiresAt)
	require.Len(t, started.Code.Value, 8)

	red, err := h.m.RedeemCode(ctx, "player1", started.Code.Value, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, code.Valid, red.Outcome.Result)
	require.Equal(t, Purgatory, red.State)

	st, err := h.m.OnIdentityConnect(ctx, "player1")
	require.NoError(t, err)
	require.Equal(t, Quarantine, st)

	// idempotente
	st, err = h.m.OnIdentityConnect(ctx, "player1")
	require.NoError(t, err)
	require.Equal(t, Quarantine, st)
}

func TestStart_AlreadyActivePerIdentity(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	_, err := h.m.StartVerification(ctx, "player1", "chatUser1")
	require.NoError(t, err)

	_, err = h.m.StartVerification(ctx, "player1", "chatUser2")
	require.True(t, errors.Is(err, domain.ErrAlreadyActive))
	_, err = h.m.StartVerification(ctx, "player2", "chatUser1")
	require.True(t, errors.Is(err, domain.ErrAlreadyActive))
	require.Equal(t, 1, h.codes.Outstanding())
}

func TestStart_InvalidIdentity(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	_, err := h.m.StartVerification(context.Background(), "bad name!", "chatUser1")
	require.True(t, errors.Is(err, domain.ErrInvalidIdentity))
	_, err = h.m.StartVerification(context.Background(), "", "chatUser1")
	require.True(t, errors.Is(err, domain.ErrInvalidIdentity))
	require.Equal(t, 0, h.m.Active())
}

func TestStart_AltClientSkipsLookup(t *testing.T) {
	h := newHarness(t, Config{AltClientPrefix: "."}, nil)
	started, err := h.m.StartVerification(context.Background(), ".Bedrock_1", "chatUser1")
	require.NoError(t, err)
	require.True(t, started.Session.AltClient)
}

func TestStart_ConcurrentSameIdentityOnlyOneWins(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.m.StartVerification(context.Background(), "player1", fmt.Sprintf("chat%d", i)); err == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), ok.Load())
	require.Equal(t, 1, h.m.Active())
	require.Equal(t, 1, h.codes.Outstanding())
}

func TestExpiry_IsDerivedAtReadTime(t *testing.T) {
	clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	h := newHarness(t, Config{}, clk.Now)
	ctx := context.Background()

	started, err := h.m.StartVerification(ctx, "player1", "chatUser1")
	require.NoError(t, err)
	clk.Advance(10*time.Minute + time.Second)

	// ningún barrido corrió, igual se observa EXPIRED
	require.Equal(t, Expired, stateOf(t, h.m, "player1"))
	s, ok := h.m.QuerySession("chatUser1")
	require.True(t, ok)
	require.Equal(t, Expired, s.State)

	st, err := h.m.OnIdentityConnect(ctx, "player1")
	require.NoError(t, err)
	require.Equal(t, Expired, st)
	require.Equal(t, 0, h.m.Active())

	red, err := h.m.RedeemCode(ctx, "player1", started.Code.Value, "x")
	require.NoError(t, err)
	require.Equal(t, code.Expired, red.Outcome.Result)
	require.Equal(t, Expired, red.State)
	require.Equal(t, Expired, stateOf(t, h.m, "player1"))

	// se puede volver a empezar
	restarted, err := h.m.StartVerification(ctx, "player1", "chatUser1")
	require.NoError(t, err)
	require.Equal(t, Purgatory, stateOf(t, h.m, "player1"))
	require.NotEqual(t, started.Code.Value, restarted.Code.Value)
}

func TestExpiry_RetiredSessionCodeStaysExpired(t *testing.T) {
	clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	h := newHarness(t, Config{}, clk.Now)
	ctx := context.Background()

	started, err := h.m.StartVerification(ctx, "player1", "chatUser1")
	require.NoError(t, err)
	clk.Advance(10*time.Minute + time.Second)

	// el barrido de sesiones corre antes que el de códigos
	require.Equal(t, 1, h.m.ExpireSessions(clk.Now()))
	require.Equal(t, 0, h.codes.ExpireCodes(clk.Now()))
	require.Equal(t, 0, h.codes.Outstanding())

	for i := 0; i < 2; i++ {
		out := h.codes.Validate(ctx, code.ValidateRequest{Code: started.Code.Value, ClaimedChatID: "chatUser1"})
		require.Equal(t, code.Expired, out.Result, "validation %d", i+1)
	}

	red, err := h.m.RedeemCode(ctx, "player1", started.Code.Value, "x")
	require.NoError(t, err)
	require.Equal(t, code.Expired, red.Outcome.Result)
	require.Equal(t, Expired, red.State)
	require.Equal(t, Expired, stateOf(t, h.m, "player1"))

	st, err := h.m.OnIdentityConnect(ctx, "player1")
	require.NoError(t, err)
	require.Equal(t, Expired, st)
}

func TestExpiry_TimerRetiredCodeStaysExpired(t *testing.T) {
	cfg := fastConfig()
	cfg.PurgatoryWindow = 60 * time.Millisecond
	h := newHarness(t, cfg, nil)
	ctx := context.Background()

	started, err := h.m.StartVerification(ctx, "player1", "chatUser1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.m.Active() == 0 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		out := h.codes.Validate(ctx, code.ValidateRequest{Code: started.Code.Value, ClaimedChatID: "chatUser1"})
		require.Equal(t, code.Expired, out.Result, "validation %d", i+1)
	}
	require.Equal(t, Expired, stateOf(t, h.m, "player1"))
}

func TestExpireSessions_Sweep(t *testing.T) {
	clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	h := newHarness(t, Config{}, clk.Now)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.m.StartVerification(ctx, fmt.Sprintf("player%d", i), fmt.Sprintf("chat%d", i))
		require.NoError(t, err)
	}
	_, _ = h.m.OnIdentityConnect(ctx, "player0")
	clk.Advance(11 * time.Minute)

	require.Equal(t, 3, h.m.ExpireSessions(clk.Now()))
	require.Equal(t, 0, h.m.Active())
	require.Equal(t, 0, h.codes.Outstanding())
	require.Equal(t, 0, h.m.ExpireSessions(clk.Now()))
}

func TestTimerChain_ReachesMember(t *testing.T) {
	h := newHarness(t, fastConfig(), nil)
	ctx := context.Background()

	started, err := h.m.StartVerification(ctx, "player1", "chatUser1")
	require.NoError(t, err)
	_, err = h.m.OnIdentityConnect(ctx, "player1")
	require.NoError(t, err)
	red, err := h.m.RedeemCode(ctx, "player1", started.Code.Value, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, red.Outcome.OK())

	require.Eventually(t, func() bool { return stateOf(t, h.m, "player1") == Member }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 0, h.m.Active())

	mem, err := h.members.Get(ctx, "player1")
	require.NoError(t, err)
	require.Equal(t, "chatUser1", mem.ChatID)
	require.Equal(t, started.Session.ID, mem.SessionID)

	promoted, _ := h.m.Counters()
	require.Equal(t, int64(1), promoted)

	_, err = h.m.StartVerification(ctx, "player1", "chatUser9")
	require.True(t, errors.Is(err, domain.ErrAlreadyActive))
}

func TestQuarantine_WaitsForCode(t *testing.T) {
	h := newHarness(t, fastConfig(), nil)
	ctx := context.Background()

	started, err := h.m.StartVerification(ctx, "player1", "chatUser1")
	require.NoError(t, err)
	_, err = h.m.OnIdentityConnect(ctx, "player1")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, Quarantine, stateOf(t, h.m, "player1"))
	s, _ := h.m.QuerySession("player1")
	require.True(t, s.QuarantineDone)

	red, err := h.m.RedeemCode(ctx, "player1", started.Code.Value, "x")
	require.NoError(t, err)
	require.Equal(t, Verified, red.State)
	require.Eventually(t, func() bool { return stateOf(t, h.m, "player1") == Member }, 2*time.Second, 5*time.Millisecond)
}

func TestBan_MidQuarantineStopsPromotion(t *testing.T) {
	cfg := fastConfig()
	cfg.QuarantineWindow = 80 * time.Millisecond
	h := newHarness(t, cfg, nil)
	ctx := context.Background()

	started, _ := h.m.StartVerification(ctx, "player1", "chatUser1")
	_, _ = h.m.OnIdentityConnect(ctx, "player1")
	_, _ = h.m.RedeemCode(ctx, "player1", started.Code.Value, "x")

	st, err := h.m.Ban(ctx, "player1", "mod", "griefing")
	require.NoError(t, err)
	require.Equal(t, Banned, st)

	time.Sleep(250 * time.Millisecond)
	require.Equal(t, Banned, stateOf(t, h.m, "player1"))
	_, err = h.members.Get(ctx, "player1")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.m.StartVerification(ctx, "player1", "chatUser1")
	require.True(t, errors.Is(err, domain.ErrBanned))

	require.True(t, h.m.Unban(ctx, "player1", "mod"))
	require.Equal(t, Unverified, stateOf(t, h.m, "player1"))
}

func TestSoftFailures_PendingManualThenApprove(t *testing.T) {
	h := newHarness(t, fastConfig(), nil)
	ctx := context.Background()
	started, _ := h.m.StartVerification(ctx, "player1", "chatUser1")
	_, _ = h.m.OnIdentityConnect(ctx, "player1")

	var last Redemption
	for i := 0; i < 5; i++ {
		var err error
		last, err = h.m.RedeemCode(ctx, "player1", "0000000"+fmt.Sprint(i), "x")
		require.NoError(t, err)
	}
	require.Equal(t, PendingManual, last.State)

	_, err := h.m.RedeemCode(ctx, "player1", started.Code.Value, "x")
	require.True(t, errors.Is(err, domain.ErrPendingReview))

	st, err := h.m.ResolveManual(ctx, "player1", true, "mod")
	require.NoError(t, err)
	require.Equal(t, Verified, st)
	require.Equal(t, 0, h.codes.OutstandingFor("chatUser1"))
	require.Eventually(t, func() bool { return stateOf(t, h.m, "player1") == Member }, 2*time.Second, 5*time.Millisecond)
}

func TestResolveManual_RejectAndInvalid(t *testing.T) {
	h := newHarness(t, Config{SoftFailureThreshold: 1}, nil)
	ctx := context.Background()
	_, _ = h.m.StartVerification(ctx, "player1", "chatUser1")

	_, err := h.m.ResolveManual(ctx, "player1", true, "mod")
	require.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, _ = h.m.RedeemCode(ctx, "player1", "ffffffff", "x")
	require.Equal(t, PendingManual, stateOf(t, h.m, "player1"))

	st, err := h.m.ResolveManual(ctx, "player1", false, "mod")
	require.NoError(t, err)
	require.Equal(t, Expired, st)
	require.Equal(t, 0, h.m.Active())
}

func TestCancelAndReissue(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	started, _ := h.m.StartVerification(ctx, "player1", "chatUser1")

	vc, err := h.m.ReissueCode(ctx, "chatUser1")
	require.NoError(t, err)
	require.NotEqual(t, started.Code.Value, vc.Value)
	require.False(t, vc.ExpiresAt.After(started.Session.ExpiresAt))
	require.Equal(t, 1, h.codes.OutstandingFor("chatUser1"))

	red, _ := h.m.RedeemCode(ctx, "player1", started.Code.Value, "x")
	require.Equal(t, code.NotFound, red.Outcome.Result)

	require.NoError(t, h.m.Cancel(ctx, "player1", "mod"))
	require.Equal(t, Expired, stateOf(t, h.m, "player1"))
	out := h.codes.Validate(ctx, code.ValidateRequest{Code: vc.Value, ClaimedChatID: "chatUser1"})
	require.Equal(t, code.Expired, out.Result)
	s, ok := h.m.QuerySession("player1")
	require.True(t, ok)
	require.Equal(t, Expired, s.State)

	_, err = h.m.ReissueCode(ctx, "chatUser1")
	require.True(t, errors.Is(err, domain.ErrNotFound))
	require.True(t, errors.Is(h.m.Cancel(ctx, "player1", "mod"), domain.ErrNotFound))
}

func TestMemberPersist_RetriedByCleanup(t *testing.T) {
	h := newHarness(t, fastConfig(), nil)
	ctx := context.Background()
	h.members.fail.Store(true)

	started, _ := h.m.StartVerification(ctx, "player1", "chatUser1")
	_, _ = h.m.RedeemCode(ctx, "player1", started.Code.Value, "x")
	_, _ = h.m.OnIdentityConnect(ctx, "player1")

	require.Eventually(t, func() bool { return h.m.PendingPersists() == 1 }, 2*time.Second, 5*time.Millisecond)
	// el cache de miembros ya refleja la promoción
	require.Equal(t, Member, stateOf(t, h.m, "player1"))

	rep := h.m.Cleanup(ctx)
	require.Equal(t, 1, rep.MembersFailed)

	h.members.fail.Store(false)
	rep = h.m.Cleanup(ctx)
	require.Equal(t, 1, rep.MembersRetried)
	require.Equal(t, 0, h.m.PendingPersists())
	_, err := h.members.Get(ctx, "player1")
	require.NoError(t, err)
}

type stubChecker struct{ allow bool }

func (s stubChecker) CanAccess(context.Context, string, string) bool { return s.allow }

func TestCanAccess_DelegatesToChecker(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	assert.False(t, h.m.CanAccess(context.Background(), "player1", "survival"))
	h.m.SetAccessChecker(stubChecker{allow: true})
	assert.True(t, h.m.CanAccess(context.Background(), "player1", "survival"))
}

func TestShutdown_RejectsNewSessions(t *testing.T) {
	h := newHarness(t, fastConfig(), nil)
	ctx := context.Background()
	_, _ = h.m.StartVerification(ctx, "player1", "chatUser1")
	h.m.Shutdown()
	require.False(t, h.m.Initialized())

	_, err := h.m.StartVerification(ctx, "player2", "chatUser2")
	require.Equal(t, domain.ReasonSystemError, domain.ReasonOf(err))

	counts := h.m.CountByState()
	require.Equal(t, 1, counts[Purgatory])
}

func TestTransitionGraph(t *testing.T) {
	require.True(t, CanTransition(Purgatory, Quarantine))
	require.True(t, CanTransition(Quarantine, Banned))
	require.False(t, CanTransition(Quarantine, Purgatory))
	require.False(t, CanTransition(Member, Banned))
	require.False(t, CanTransition(Expired, Purgatory))
	for _, s := range []State{Member, Expired, Banned} {
		require.True(t, s.Terminal())
		require.Empty(t, graph[s])
	}
}
