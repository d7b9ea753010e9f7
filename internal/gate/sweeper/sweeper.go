// Package sweeper corre los barridos periódicos del gate sobre el pool de
// timers: rápido (códigos y ventanas de rate limit), medio (sesiones, limpieza
// delegada y liberación de memoria) y lento (retención de auditoría, historial
// anti-replay y chequeo de salud). Los barridos nunca corren en paralelo.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/domain"
	"github.com/dropDatabas3/lobbygate/internal/gate/session"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
	"github.com/dropDatabas3/lobbygate/internal/timer"
)

// Kind identifica el tipo de barrido.
type Kind string

const (
	Fast      Kind = "fast"
	Medium    Kind = "medium"
	Slow      Kind = "slow"
	Emergency Kind = "emergency"
	Final     Kind = "final"
)

// Result es el resultado estructurado de un barrido.
type Result struct {
	Kind      Kind           `json:"kind"`
	Reason    string         `json:"reason,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Removed   int            `json:"removed"`
	Items     map[string]int `json:"items,omitempty"`
	OK        bool           `json:"ok"`
	Error     string         `json:"error,omitempty"`
}

// Totals agrega los resultados de un tipo de barrido desde el arranque.
type Totals struct {
	Runs     int64         `json:"runs"`
	Failures int64         `json:"failures"`
	Removed  int64         `json:"removed"`
	Time     time.Duration `json:"time"`
}

// Codes es la vista del servicio de códigos que usa el barrendero.
type Codes interface {
	ExpireCodes(now time.Time) int
	PruneLimits(now time.Time) int
	FlushReplay(ctx context.Context) (int, error)
	PruneHistory(ctx context.Context, now time.Time) (int, error)
	Initialized() bool
}

// Sessions es la vista de la máquina de estados.
type Sessions interface {
	Cleanup(ctx context.Context) session.CleanupReport
	Initialized() bool
}

// LimitPruner poda ventanas de rate limit vencidas.
type LimitPruner interface {
	PruneLimits(now time.Time) int
}

// Expirer es un cache en memoria con expiración perezosa.
type Expirer interface {
	DeleteExpired()
}

// Check es un chequeo de salud externo corrido por el barrido lento.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Targets son los componentes que barre. Todos son opcionales.
type Targets struct {
	Codes    Codes
	Sessions Sessions
	Limits   []LimitPruner
	Caches   []Expirer
	Checks   []Check
}

// Sweeper programa y ejecuta los barridos.
type Sweeper struct {
	cfg     Config
	targets Targets
	timers  *timer.Scheduler
	audit   *audit.Log
	log     *zap.Logger
	now     domain.Clock

	run      sync.Mutex // serializa barridos
	inflight sync.WaitGroup

	mu        sync.Mutex
	handles   []*timer.Handle
	stats     []Result
	totals    map[Kind]Totals
	lastEmerg time.Time
	shutdown  bool
	finalDone bool

	heap func() uint64
}

// New crea el barrendero; no programa nada hasta Start.
func New(cfg Config, targets Targets, timers *timer.Scheduler, a *audit.Log, log *zap.Logger) *Sweeper {
	cfg.defaults()
	return &Sweeper{
		cfg:     cfg,
		targets: targets,
		timers:  timers,
		audit:   a,
		log:     logger.OrNamed(log, "sweeper"),
		totals:  make(map[Kind]Totals),
		heap:    heapAlloc,
	}
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// WithClock reemplaza el reloj (tests).
func (s *Sweeper) WithClock(now domain.Clock) *Sweeper {
	s.now = now
	return s
}

// Start programa las tres cadencias en el pool de timers.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown || len(s.handles) > 0 {
		return
	}
	s.handles = append(s.handles,
		s.timers.Every(s.cfg.Fast, "sweep.fast", func(ctx context.Context) {
			s.Run(ctx, Fast)
			s.checkPressure(ctx)
		}),
		s.timers.Every(s.cfg.Medium, "sweep.medium", func(ctx context.Context) { s.Run(ctx, Medium) }),
		s.timers.Every(s.cfg.Slow, "sweep.slow", func(ctx context.Context) { s.Run(ctx, Slow) }),
	)
	s.log.Info("sweeper started",
		zap.Duration("fast", s.cfg.Fast),
		zap.Duration("medium", s.cfg.Medium),
		zap.Duration("slow", s.cfg.Slow),
	)
}

// Run ejecuta un barrido de forma sincrónica. Un pánico dentro del barrido
// queda aislado en el Result.
func (s *Sweeper) Run(ctx context.Context, kind Kind) Result {
	return s.execute(ctx, kind, "")
}

// Emergency corre el barrido medio fuera de cadencia.
func (s *Sweeper) Emergency(ctx context.Context, reason string) Result {
	s.mu.Lock()
	s.lastEmerg = s.now.Now()
	s.mu.Unlock()
	s.log.Warn("emergency sweep", logger.Reason(reason))
	return s.execute(ctx, Emergency, reason)
}

func (s *Sweeper) execute(ctx context.Context, kind Kind, reason string) (res Result) {
	s.inflight.Add(1)
	defer s.inflight.Done()
	s.run.Lock()
	defer s.run.Unlock()

	res = Result{Kind: kind, Reason: reason, StartedAt: s.now.Now(), Items: map[string]int{}}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.Error = fmt.Sprintf("panic: %v", r)
			s.log.Error("sweep panic", logger.Sweep(string(kind)), zap.Any("panic", r), zap.Stack("stack"))
		}
		res.Duration = time.Since(start)
		for _, n := range res.Items {
			res.Removed += n
		}
		s.finish(res)
	}()

	var err error
	switch kind {
	case Fast:
		err = s.fast(ctx, res.Items)
	case Medium, Emergency:
		err = s.medium(ctx, res.Items)
	case Slow:
		err = s.slow(ctx, res.Items)
	case Final:
		err = errors.Join(s.fast(ctx, res.Items), s.medium(ctx, res.Items), s.slow(ctx, res.Items))
	default:
		err = fmt.Errorf("unknown sweep kind %q", kind)
	}
	res.OK = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (s *Sweeper) fast(ctx context.Context, items map[string]int) error {
	now := s.now.Now()
	var errs []error
	if c := s.targets.Codes; c != nil {
		items["codes_expired"] += c.ExpireCodes(now)
		items["limit_windows"] += c.PruneLimits(now)
		if _, err := c.FlushReplay(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush replay: %w", err))
		}
	}
	for _, l := range s.targets.Limits {
		items["limit_windows"] += l.PruneLimits(now)
	}
	return errors.Join(errs...)
}

func (s *Sweeper) medium(ctx context.Context, items map[string]int) error {
	var err error
	if t := s.targets.Sessions; t != nil {
		rep := t.Cleanup(ctx)
		items["sessions_expired"] += rep.Expired
		items["archive_pruned"] += rep.ArchivePruned
		items["members_retried"] += rep.MembersRetried
		if rep.MembersFailed > 0 {
			err = fmt.Errorf("%d member writes still pending", rep.MembersFailed)
		}
	}
	for _, c := range s.targets.Caches {
		c.DeleteExpired()
	}
	debug.FreeOSMemory()
	return err
}

func (s *Sweeper) slow(ctx context.Context, items map[string]int) error {
	now := s.now.Now()
	var errs []error
	if s.audit != nil {
		items["audit_pruned"] += s.audit.Prune(now)
	}
	if c := s.targets.Codes; c != nil {
		n, err := c.PruneHistory(ctx, now)
		items["replay_pruned"] += n
		if err != nil {
			errs = append(errs, fmt.Errorf("prune replay history: %w", err))
		}
	}
	errs = append(errs, s.health(ctx))

	s.mu.Lock()
	agg := make(map[Kind]Totals, len(s.totals))
	for k, v := range s.totals {
		agg[k] = v
	}
	s.mu.Unlock()
	s.log.Info("sweep totals", zap.Any("totals", agg))
	return errors.Join(errs...)
}

func (s *Sweeper) health(ctx context.Context) error {
	var errs []error
	if c := s.targets.Codes; c != nil && !c.Initialized() {
		errs = append(errs, errors.New("code service not initialized"))
	}
	if t := s.targets.Sessions; t != nil && !t.Initialized() {
		errs = append(errs, errors.New("session machine not initialized"))
	}
	for _, chk := range s.targets.Checks {
		if err := chk.Fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", chk.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sweeper) finish(res Result) {
	s.mu.Lock()
	s.stats = append(s.stats, res)
	if over := len(s.stats) - s.cfg.StatsWindow; over > 0 {
		s.stats = append(s.stats[:0:0], s.stats[over:]...)
	}
	t := s.totals[res.Kind]
	t.Runs++
	t.Removed += int64(res.Removed)
	t.Time += res.Duration
	if !res.OK {
		t.Failures++
	}
	s.totals[res.Kind] = t
	s.mu.Unlock()

	status := "ok"
	fields := []zap.Field{logger.Sweep(string(res.Kind)), logger.Count(res.Removed), logger.Duration(res.Duration)}
	if !res.OK {
		status = "failed"
		s.log.Error("sweep failed", append(fields, zap.String("error", res.Error))...)
	} else if res.Removed > 0 {
		s.log.Debug("sweep done", fields...)
	}
	if s.audit != nil {
		detail := map[string]any{"removed": res.Removed, "duration_ms": res.Duration.Milliseconds()}
		if res.Error != "" {
			detail["error"] = res.Error
		}
		if res.Reason != "" {
			detail["reason"] = res.Reason
		}
		s.audit.Record("sweeper", audit.ActionSweep, status, detail)
	}
}

// checkPressure dispara Emergency si el heap supera MemoryPressureMB, como
// mucho una vez por intervalo rápido.
func (s *Sweeper) checkPressure(ctx context.Context) {
	if s.cfg.MemoryPressureMB <= 0 {
		return
	}
	used := s.heap()
	limit := uint64(s.cfg.MemoryPressureMB) << 20
	if used < limit {
		return
	}
	s.mu.Lock()
	recent := !s.lastEmerg.IsZero() && s.now.Now().Sub(s.lastEmerg) < s.cfg.Fast
	s.mu.Unlock()
	if recent {
		return
	}
	s.Emergency(ctx, fmt.Sprintf("heap %dMB over %dMB", used>>20, s.cfg.MemoryPressureMB))
}

// Stats retorna la ventana de resultados recientes, del más viejo al más nuevo.
func (s *Sweeper) Stats() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.stats))
	copy(out, s.stats)
	return out
}

// Totals retorna los agregados por tipo de barrido.
func (s *Sweeper) Totals() map[Kind]Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Kind]Totals, len(s.totals))
	for k, v := range s.totals {
		out[k] = v
	}
	return out
}

// Shutdown cancela las cadencias, espera (acotado por ShutdownWait y ctx) al
// barrido en curso y corre un barrido final completo. Es idempotente.
func (s *Sweeper) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.finalDone {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownWait)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- s.execute(ctx, Final, "shutdown") }()
	select {
	case res := <-done:
		s.mu.Lock()
		s.finalDone = true
		s.mu.Unlock()
		s.log.Info("final sweep done", logger.Count(res.Removed), logger.Duration(res.Duration))
		if !res.OK {
			return fmt.Errorf("final sweep: %s", res.Error)
		}
		return nil
	case <-ctx.Done():
		s.log.Warn("final sweep did not finish in time", logger.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Wait bloquea hasta que no quede ningún barrido en curso.
func (s *Sweeper) Wait() { s.inflight.Wait() }
