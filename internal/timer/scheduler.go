// Package timer implementa continuaciones diferidas cancelables sobre un pool fijo
// de workers. Cada After/Every devuelve un *Handle; cancelar un handle garantiza que
// su callback no corre si todavía no fue tomado por un worker.
package timer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
)

// ErrStopped se retorna al programar sobre un scheduler detenido.
var ErrStopped = errors.New("timer: scheduler stopped")

// Config dimensiona el pool.
type Config struct {
	Workers int
	Queue   int
}

// Func es el callback programado. El ctx se cancela cuando el scheduler se detiene.
type Func func(ctx context.Context)

// Scheduler ejecuta callbacks diferidos en un pool fijo de goroutines.
type Scheduler struct {
	cfg  Config
	log  *zap.Logger
	jobs chan *Handle

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*Handle
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	executed atomic.Int64
	panics   atomic.Int64
}

// New crea un scheduler; Start lanza los workers.
func New(cfg Config, log *zap.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		log:     logger.OrNamed(log, "timer"),
		jobs:    make(chan *Handle, cfg.Queue),
		pending: make(map[uint64]*Handle),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start lanza los workers. Es idempotente.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// After programa fn para dentro de d. Sobre un scheduler detenido retorna un
// handle ya cancelado.
func (s *Scheduler) After(d time.Duration, name string, fn Func) *Handle {
	return s.schedule(d, 0, name, fn)
}

// Every programa fn cada interval hasta que el handle se cancele.
func (s *Scheduler) Every(interval time.Duration, name string, fn Func) *Handle {
	if interval <= 0 {
		interval = time.Second
	}
	return s.schedule(interval, interval, name, fn)
}

func (s *Scheduler) schedule(d, every time.Duration, name string, fn Func) *Handle {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	h := &Handle{id: s.nextID, name: name, fn: fn, every: every, s: s}
	if s.stopped {
		h.cancelled.Store(true)
		return h
	}
	s.pending[h.id] = h
	h.timer = time.AfterFunc(d, func() { s.enqueue(h) })
	return h
}

// enqueue entrega el handle a los workers. Si la cola está llena el job se
// ejecuta en una goroutine propia para no perder la transición.
func (s *Scheduler) enqueue(h *Handle) {
	if h.cancelled.Load() {
		return
	}
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.jobs <- h:
	default:
		s.log.Warn("timer queue full, running job inline", logger.String("job", h.name))
		s.runDetached(h)
	}
}

// runDetached corre h en una goroutine propia contada en s.wg. El Add ocurre
// bajo s.mu después de chequear stopped, así nunca compite con el Wait de Stop.
// Retorna false si el scheduler ya se detuvo.
func (s *Scheduler) runDetached(h *Handle) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.run(h)
	}()
	return true
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case h := <-s.jobs:
			s.run(h)
		}
	}
}

func (s *Scheduler) run(h *Handle) {
	if !h.claim() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.panics.Add(1)
			s.log.Error("timer job panicked", logger.String("job", h.name), logger.Any("panic", rec))
		}
		h.release()
	}()
	s.executed.Add(1)
	h.fn(s.ctx)
}

func (s *Scheduler) reschedule(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || h.cancelled.Load() {
		delete(s.pending, h.id)
		return false
	}
	h.timer = time.AfterFunc(h.every, func() { s.enqueue(h) })
	return true
}

func (s *Scheduler) forget(h *Handle) {
	s.mu.Lock()
	delete(s.pending, h.id)
	s.mu.Unlock()
}

// Pending cuenta los handles programados y no cancelados.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Executed cuenta los callbacks ejecutados desde el arranque.
func (s *Scheduler) Executed() int64 { return s.executed.Load() }

// Running indica si el pool está activo.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

// Stop cancela todos los handles pendientes, deja de aceptar trabajo y espera a
// los workers hasta que ctx expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	handles := make([]*Handle, 0, len(s.pending))
	for _, h := range s.pending {
		handles = append(handles, h)
	}
	s.pending = map[uint64]*Handle{}
	s.mu.Unlock()

	for _, h := range handles {
		h.cancelled.Store(true)
		if h.timer != nil {
			h.timer.Stop()
		}
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
