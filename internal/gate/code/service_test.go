package code

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/domain"
	"github.com/dropDatabas3/lobbygate/internal/rate"
	"github.com/dropDatabas3/lobbygate/internal/store"
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

type fixture struct {
	svc     *Service
	clk     *clock
	journal *store.MemoryJournal
	audit   *audit.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := rate.NewSlidingWindow(10, 5*time.Minute).WithClock(clk.Now)
	guard := rate.NewGuard(20, time.Hour, 30*time.Minute).WithClock(clk.Now)
	journal := store.NewMemoryJournal()
	a := audit.New(audit.Config{MaxEntries: 1000}, zap.NewNop())
	t.Cleanup(a.Close)
	svc := New(Config{PerUserCap: 3}, limiter, guard, journal, a, zap.NewNop()).WithClock(clk.Now)
	return &fixture{svc: svc, clk: clk, journal: journal, audit: a}
}

// seqReader entrega bloques fijos para forzar valores conocidos.
type seqReader struct {
	mu     sync.Mutex
	blocks [][]byte
}

func (r *seqReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.blocks) == 0 {
		return 0, errors.New("exhausted")
	}
	n := copy(p, r.blocks[0])
	if len(r.blocks) > 1 {
		r.blocks = r.blocks[1:]
	}
	return n, nil
}

func TestGenerate_FormatAndTier(t *testing.T) {
	f := newFixture(t)
	for tier, n := range map[Tier]int{TierStandard: 8, TierElevated: 12, TierCritical: 16} {
		c, err := f.svc.Generate("chat-"+string(tier), "", tier)
		require.NoError(t, err)
		require.Len(t, c.Value, n)
		require.True(t, f.svc.WellFormed(c.Value))
		require.True(t, c.ExpiresAt.After(c.CreatedAt))
	}

	_, err := f.svc.Generate("", "", TierStandard)
	require.True(t, errors.Is(err, domain.ErrInvalidIdentity))
	_, err = f.svc.Generate("chat", "", Tier("bogus"))
	require.Equal(t, domain.ReasonSystemError, domain.ReasonOf(err))
}

func TestGenerateWithin_CapsExpiry(t *testing.T) {
	f := newFixture(t)
	limit := f.clk.Now().Add(2 * time.Minute)
	c, err := f.svc.GenerateWithin("chatUser1", "player1", TierStandard, limit)
	require.NoError(t, err)
	require.Equal(t, limit, c.ExpiresAt)
}

func TestValidate_ValidThenAlreadyUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Generate("chatUser1", "player1", TierStandard)
	require.NoError(t, err)

	out := f.svc.Validate(ctx, ValidateRequest{Code: c.Value, ClaimedChatID: "chatUser1", SourceAddr: "10.0.0.1"})
	require.Equal(t, Valid, out.Result)
	require.True(t, out.Code.Used)
	require.Equal(t, 0, f.svc.Outstanding())

	// mayúsculas normalizadas; ya consumido
	out = f.svc.Validate(ctx, ValidateRequest{Code: bytesUpper(c.Value), ClaimedChatID: "chatUser1"})
	require.Equal(t, AlreadyUsed, out.Result)
}

func bytesUpper(s string) string { return string(bytes.ToUpper([]byte(s))) }

func TestValidate_ConcurrentAtMostOnce(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Generate("chatUser1", "player1", TierStandard)
	require.NoError(t, err)

	var valid atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// identificadores distintos para no chocar con el rate limit
			out := f.svc.Validate(context.Background(), ValidateRequest{Code: c.Value, SourceAddr: "10.0.0." + string(rune('a'+i))})
			if out.Result == Valid {
				valid.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), valid.Load())
}

func TestValidate_ExpiredStaysExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.WithRand(&seqReader{blocks: [][]byte{{0xa1, 0xb2, 0xc3, 0xd4}}})
	c, err := f.svc.Generate("chatUser1", "player1", TierStandard)
	require.NoError(t, err)
	require.Equal(t, "a1b2c3d4", c.Value)

	f.clk.Advance(11 * time.Minute)
	out := f.svc.Validate(ctx, ValidateRequest{Code: "a1b2c3d4", SourceAddr: "10.0.0.1"})
	require.Equal(t, Expired, out.Result)
	require.Empty(t, out.Code.Value, "outcome must not echo the code")

	out = f.svc.Validate(ctx, ValidateRequest{Code: "a1b2c3d4", SourceAddr: "10.0.0.1"})
	require.Equal(t, Expired, out.Result)

	// también tras el barrido rápido
	f.svc.ExpireCodes(f.clk.Now())
	out = f.svc.Validate(ctx, ValidateRequest{Code: "A1B2C3D4", SourceAddr: "10.0.0.1"})
	require.Equal(t, Expired, out.Result)
}

func TestExpireCodes_SweepCreatesTombstone(t *testing.T) {
	f := newFixture(t)
	c, _ := f.svc.Generate("chatUser1", "", TierCritical)
	f.clk.Advance(4 * time.Minute)
	require.Equal(t, 1, f.svc.ExpireCodes(f.clk.Now()))
	require.Equal(t, 0, f.svc.Outstanding())

	out := f.svc.Validate(context.Background(), ValidateRequest{Code: c.Value, SourceAddr: "x"})
	require.Equal(t, Expired, out.Result)

	// la lápida se purga tras ExpiredRetention
	f.clk.Advance(2 * time.Hour)
	f.svc.ExpireCodes(f.clk.Now())
	out = f.svc.Validate(context.Background(), ValidateRequest{Code: c.Value, SourceAddr: "y"})
	require.Equal(t, NotFound, out.Result)
}

func TestGenerate_CapEvictsOldest(t *testing.T) {
	f := newFixture(t)
	var codes []VerificationCode
	for i := 0; i < 4; i++ {
		c, err := f.svc.Generate("chatUser1", "", TierStandard)
		require.NoError(t, err)
		codes = append(codes, c)
		f.clk.Advance(time.Second)
	}
	require.Equal(t, 3, f.svc.OutstandingFor("chatUser1"))

	out := f.svc.Validate(context.Background(), ValidateRequest{Code: codes[0].Value, ClaimedChatID: "chatUser1"})
	require.Equal(t, NotFound, out.Result)
	out = f.svc.Validate(context.Background(), ValidateRequest{Code: codes[3].Value, ClaimedChatID: "chatUser1"})
	require.Equal(t, Valid, out.Result)

	require.Len(t, f.audit.Filter("chatUser1", 0), 7) // 4 issue + 1 evict + 2 validate
}

func TestGenerate_CollisionRetriesThenFails(t *testing.T) {
	f := newFixture(t)
	f.svc.WithRand(&seqReader{blocks: [][]byte{{0xde, 0xad, 0xbe, 0xef}}})
	_, err := f.svc.Generate("chatA", "", TierStandard)
	require.NoError(t, err)

	// la fuente repite siempre el mismo valor: debe fallar, no colgarse ni devolver duplicado
	_, err = f.svc.Generate("chatB", "", TierStandard)
	require.ErrorIs(t, err, ErrGenerationExhausted)
	require.Equal(t, domain.ReasonSystemError, domain.ReasonOf(err))

	// una segunda fuente con un valor nuevo tras la colisión funciona
	f.svc.WithRand(&seqReader{blocks: [][]byte{{0xde, 0xad, 0xbe, 0xef}, {0x01, 0x02, 0x03, 0x04}}})
	c, err := f.svc.Generate("chatB", "", TierStandard)
	require.NoError(t, err)
	require.Equal(t, "01020304", c.Value)
}

func TestGenerate_AvoidsConsumedValues(t *testing.T) {
	f := newFixture(t)
	f.svc.WithRand(&seqReader{blocks: [][]byte{{0xaa, 0xbb, 0xcc, 0xdd}}})
	c, _ := f.svc.Generate("chatA", "", TierStandard)
	require.Equal(t, Valid, f.svc.Validate(context.Background(), ValidateRequest{Code: c.Value, ClaimedChatID: "chatA"}).Result)

	f.svc.WithRand(&seqReader{blocks: [][]byte{{0xaa, 0xbb, 0xcc, 0xdd}, {0x11, 0x22, 0x33, 0x44}}})
	c2, err := f.svc.Generate("chatB", "", TierStandard)
	require.NoError(t, err)
	require.NotEqual(t, c.Value, c2.Value)
}

func TestValidate_OwnershipMismatch(t *testing.T) {
	f := newFixture(t)
	c, _ := f.svc.Generate("chatUser1", "player1", TierStandard)

	out := f.svc.Validate(context.Background(), ValidateRequest{Code: c.Value, ClaimedChatID: "intruder"})
	require.Equal(t, OwnershipMismatch, out.Result)
	out = f.svc.Validate(context.Background(), ValidateRequest{Code: c.Value, GameID: "player2", SourceAddr: "x"})
	require.Equal(t, OwnershipMismatch, out.Result)

	// el código sigue vivo para su dueño
	out = f.svc.Validate(context.Background(), ValidateRequest{Code: c.Value, ClaimedChatID: "chatUser1", GameID: "PLAYER1"})
	require.Equal(t, Valid, out.Result)
}

func TestValidate_InvalidFormat(t *testing.T) {
	f := newFixture(t)
	for _, v := range []string{"", "xyz", "a1b2c3d", "a1b2c3d4e", "g1b2c3d4"} {
		out := f.svc.Validate(context.Background(), ValidateRequest{Code: v, SourceAddr: "x"})
		require.Equal(t, InvalidFormat, out.Result, "code %q", v)
	}
}

func TestValidate_RateLimitThenBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := ValidateRequest{Code: "00000000", ClaimedChatID: "chatUser1"}

	for i := 1; i <= 10; i++ {
		require.Equal(t, NotFound, f.svc.Validate(ctx, req).Result, "attempt %d", i)
	}
	require.Equal(t, RateLimited, f.svc.Validate(ctx, req).Result, "attempt 11")

	for i := 12; i <= 20; i++ {
		require.Equal(t, RateLimited, f.svc.Validate(ctx, req).Result, "attempt %d", i)
	}
	require.Equal(t, Blocked, f.svc.Validate(ctx, req).Result, "attempt 21")
	require.Equal(t, 1, f.svc.BlockedCount())

	// la ventana de rate limit ya se vació, el bloqueo sigue
	f.clk.Advance(6 * time.Minute)
	out := f.svc.Validate(ctx, req)
	require.Equal(t, Blocked, out.Result)
	require.Greater(t, out.RetryAfter, time.Duration(0))

	// tras el cooldown vuelve a validar normalmente
	f.clk.Advance(30 * time.Minute)
	require.Equal(t, NotFound, f.svc.Validate(ctx, req).Result)
}

func TestValidate_FallsBackToSourceAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		f.svc.Validate(ctx, ValidateRequest{Code: "00000000", SourceAddr: "10.0.0.9"})
	}
	require.Equal(t, RateLimited, f.svc.Validate(ctx, ValidateRequest{Code: "00000000", SourceAddr: "10.0.0.9"}).Result)
	require.Equal(t, NotFound, f.svc.Validate(ctx, ValidateRequest{Code: "00000000", SourceAddr: "10.0.0.10"}).Result)
}

func TestReplay_FlushAndReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := f.svc.Generate("chatUser1", "", TierStandard)
	require.True(t, f.svc.Validate(ctx, ValidateRequest{Code: c.Value, ClaimedChatID: "chatUser1"}).OK())

	n, err := f.svc.FlushReplay(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// un servicio nuevo sobre el mismo journal sigue rechazando el código
	fresh := New(Config{}, nil, nil, f.journal, nil, zap.NewNop()).WithClock(f.clk.Now)
	require.NoError(t, fresh.Load(ctx))
	require.True(t, fresh.Initialized())
	require.Equal(t, AlreadyUsed, fresh.Validate(ctx, ValidateRequest{Code: c.Value}).Result)

	f.clk.Advance(25 * time.Hour)
	removed, err := f.svc.PruneHistory(ctx, f.clk.Now())
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	all, _ := f.journal.Load(ctx)
	require.Empty(t, all)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	c, _ := f.svc.Generate("chatUser1", "", TierStandard)
	_, _ = f.svc.Generate("chatUser1", "", TierStandard)
	require.Equal(t, 2, f.svc.Revoke("chatUser1"))
	_, ok := f.svc.Current("chatUser1")
	require.False(t, ok)
	require.Equal(t, NotFound, f.svc.Validate(context.Background(), ValidateRequest{Code: c.Value, ClaimedChatID: "chatUser1"}).Result)
}

func TestExpire_LeavesTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.svc.Generate("chatUser1", "", TierStandard)
	b, _ := f.svc.Generate("chatUser1", "", TierStandard)
	other, _ := f.svc.Generate("chatUser2", "", TierStandard)

	// todavía dentro de su vida útil: vencen por la sesión, no por el reloj
	require.Equal(t, 2, f.svc.Expire("chatUser1"))
	require.Equal(t, 0, f.svc.OutstandingFor("chatUser1"))
	require.Equal(t, 1, f.svc.Outstanding())
	require.Equal(t, 0, f.svc.Expire("chatUser1"))

	for _, v := range []string{a.Value, b.Value, a.Value} {
		require.Equal(t, Expired, f.svc.Validate(ctx, ValidateRequest{Code: v, ClaimedChatID: "chatUser1"}).Result)
	}
	require.Equal(t, Valid, f.svc.Validate(ctx, ValidateRequest{Code: other.Value, ClaimedChatID: "chatUser2"}).Result)

	f.clk.Advance(2 * time.Hour)
	f.svc.ExpireCodes(f.clk.Now())
	require.Equal(t, NotFound, f.svc.Validate(ctx, ValidateRequest{Code: a.Value, ClaimedChatID: "chatUser1"}).Result)
}
